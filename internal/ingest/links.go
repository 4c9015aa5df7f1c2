package ingest

import (
	"sync"
	"time"
)

// phoneLink is the live transport session of one worker's phone.
type phoneLink struct {
	handle   string
	lastSeen time.Time
	online   bool
}

// LinkStats summarizes the tracker.
type LinkStats struct {
	Online int `json:"online"`
	Total  int `json:"total"`
}

// Links tracks which workers currently have a phone session.
type Links struct {
	mu    sync.RWMutex
	links map[string]*phoneLink
	now   func() time.Time
}

// NewLinks creates an empty tracker.
func NewLinks(now func() time.Time) *Links {
	if now == nil {
		now = time.Now
	}
	return &Links{
		links: make(map[string]*phoneLink),
		now:   now,
	}
}

// Connect records handle as the live session for workerID, replacing any
// earlier one.
func (l *Links) Connect(workerID, handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[workerID] = &phoneLink{handle: handle, lastSeen: l.now(), online: true}
}

// Heartbeat refreshes the session for workerID and brings a stale one back
// online. It is a no-op when no session exists.
func (l *Links) Heartbeat(workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.links[workerID]; ok {
		pl.lastSeen = l.now()
		pl.online = true
	}
}

// Disconnect removes the session for workerID if it is still handle. It
// reports whether a session was removed; a close from a superseded
// connection returns false.
func (l *Links) Disconnect(workerID, handle string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.links[workerID]
	if !ok || pl.handle != handle {
		return false
	}
	delete(l.links, workerID)
	return true
}

// MarkStale keeps the session but reports it offline until the next
// heartbeat.
func (l *Links) MarkStale(workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.links[workerID]; ok {
		pl.online = false
	}
}

// Online reports whether workerID has a live session.
func (l *Links) Online(workerID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pl, ok := l.links[workerID]
	return ok && pl.online
}

// Stats returns summary counts.
func (l *Links) Stats() LinkStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var s LinkStats
	s.Total = len(l.links)
	for _, pl := range l.links {
		if pl.online {
			s.Online++
		}
	}
	return s
}

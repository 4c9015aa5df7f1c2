// Package state owns the live per-worker records.
//
// Writers for the same worker are serialized by a striped mutex chosen by
// hashing the worker id; writers for different workers only contend when
// their ids share a stripe. Readers never lock: each record is published as
// an immutable snapshot behind an atomic pointer.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/ssd-technologies/hardhat/internal/alert"
)

const stripeCount = 256

type entry struct {
	seq    uint64
	record atomic.Pointer[WorkerRecord]
}

// Store maps worker ids to their current merged record.
type Store struct {
	entries   *xsync.Map[string, *entry]
	stripes   [stripeCount]sync.Mutex
	seq       atomic.Uint64
	engine    *alert.Engine
	directory Directory
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithDirectory sets the identity source consulted on every merge.
func WithDirectory(d Directory) Option {
	return func(s *Store) { s.directory = d }
}

// WithClock overrides time.Now for lastUpdate stamping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store that derives alerts with engine.
func NewStore(engine *alert.Engine, opts ...Option) *Store {
	s := &Store{
		entries: xsync.NewMap[string, *entry](),
		engine:  engine,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge applies update to the worker's record, creating the record on first
// sight, then re-derives identity, alerts, status and lastUpdate.
func (s *Store) Merge(workerID string, update Update) WorkerRecord {
	rec, _ := s.apply(workerID, true, func(r *WorkerRecord) bool {
		update(r)
		return true
	}, nil)
	return rec
}

// MergeThen is Merge followed by then, which runs before any other writer for
// the same worker can proceed. then must not block; it is where callers
// publish the result so that per-worker event order matches merge order.
func (s *Store) MergeThen(workerID string, update Update, then func(WorkerRecord)) WorkerRecord {
	rec, _ := s.apply(workerID, true, func(r *WorkerRecord) bool {
		update(r)
		return true
	}, then)
	return rec
}

// Modify changes an existing record only. fn reports whether it changed
// anything; when it returns false nothing is stored and then is skipped.
// The boolean result is false if the record does not exist or fn declined.
func (s *Store) Modify(workerID string, fn func(r *WorkerRecord) bool, then func(WorkerRecord)) (WorkerRecord, bool) {
	return s.apply(workerID, false, fn, then)
}

// Tx changes one worker's record while Exclusive holds the worker's lock.
type Tx struct {
	s        *Store
	workerID string
}

// Merge is Store.Merge inside the exclusive section.
func (tx Tx) Merge(update Update) WorkerRecord {
	rec, _ := tx.s.applyLocked(tx.workerID, true, func(r *WorkerRecord) bool {
		update(r)
		return true
	})
	return rec
}

// Modify is Store.Modify inside the exclusive section, without a callback:
// the caller already holds the lock for whatever it does next.
func (tx Tx) Modify(fn func(r *WorkerRecord) bool) (WorkerRecord, bool) {
	return tx.s.applyLocked(tx.workerID, false, fn)
}

// Exclusive runs fn with workerID's lock held, so state kept outside the
// store (such as phone links) changes in the same order as the record. fn
// must not block and must not call back into the Store except through tx.
func (s *Store) Exclusive(workerID string, fn func(tx Tx)) {
	mu := s.stripe(workerID)
	mu.Lock()
	defer mu.Unlock()
	fn(Tx{s: s, workerID: workerID})
}

func (s *Store) apply(workerID string, create bool, fn func(r *WorkerRecord) bool, then func(WorkerRecord)) (WorkerRecord, bool) {
	mu := s.stripe(workerID)
	mu.Lock()
	defer mu.Unlock()

	rec, changed := s.applyLocked(workerID, create, fn)
	if changed && then != nil {
		then(rec)
	}
	return rec, changed
}

func (s *Store) applyLocked(workerID string, create bool, fn func(r *WorkerRecord) bool) (WorkerRecord, bool) {
	e, exists := s.entries.Load(workerID)
	var next WorkerRecord
	switch {
	case exists:
		next = *e.record.Load()
	case create:
		next = WorkerRecord{WorkerID: workerID, Status: alert.StatusActive, Alerts: []alert.Alert{}}
	default:
		return WorkerRecord{}, false
	}

	if !fn(&next) {
		return next, false
	}

	next.WorkerID = workerID
	if s.directory != nil {
		if id, ok := s.directory.Identity(workerID); ok {
			next.applyIdentity(id)
		}
	}
	next.Alerts, next.Status = s.engine.Derive(next.reading())
	next.LastUpdate = s.now().UTC()

	stored := next
	if !exists {
		e = &entry{seq: s.seq.Add(1)}
		e.record.Store(&stored)
		s.entries.Store(workerID, e)
	} else {
		e.record.Store(&stored)
	}
	return next, true
}

func (s *Store) stripe(workerID string) *sync.Mutex {
	return &s.stripes[xxh3.HashString(workerID)%stripeCount]
}

// Get returns the current record for workerID.
func (s *Store) Get(workerID string) (WorkerRecord, bool) {
	e, ok := s.entries.Load(workerID)
	if !ok {
		return WorkerRecord{}, false
	}
	return *e.record.Load(), true
}

// GetAll returns every record in first-seen order.
func (s *Store) GetAll() []WorkerRecord {
	type item struct {
		seq uint64
		rec *WorkerRecord
	}
	items := make([]item, 0, s.entries.Size())
	s.entries.Range(func(_ string, e *entry) bool {
		items = append(items, item{seq: e.seq, rec: e.record.Load()})
		return true
	})
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	out := make([]WorkerRecord, len(items))
	for i, it := range items {
		out[i] = *it.rec
	}
	return out
}

// Len returns the number of known workers.
func (s *Store) Len() int {
	return s.entries.Size()
}

// Package hub fans worker updates out to real-time subscribers.
//
// Subscribers join named groups. The observers group receives a full
// snapshot on join followed by every later event; per-worker groups address a
// single phone. Delivery is best-effort: a subscriber whose queue is full is
// dropped rather than allowed to slow anyone else down.
package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/metrics"
)

// GroupObservers is the dashboard group.
const GroupObservers = "observers"

const workerGroupPrefix = "worker-"

// Event kinds.
const (
	EventInitialData       = "initial-data"
	EventSensorUpdate      = "sensor-update"
	EventLocationUpdate    = "location-update"
	EventPhoneConnected    = "phone-connected"
	EventPhoneDisconnected = "phone-disconnected"
	EventLocationReceived  = "location-received"
	EventRegistered        = "registered"
	EventHeartbeatAck      = "heartbeat-ack"
	EventDisconnected      = "disconnected"
	EventError             = "error"
)

// WorkerGroup names the group addressing one worker's phone.
func WorkerGroup(workerID string) string {
	return workerGroupPrefix + workerID
}

// Event is the envelope written to subscribers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks group membership.
type Hub struct {
	mu          sync.RWMutex
	groups      map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
	snapshot    func() any
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a Hub. snapshot is called, under the hub lock, each time an
// observer joins.
func New(snapshot func() any, opts ...Option) *Hub {
	h := &Hub{
		groups:      make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
		snapshot:    snapshot,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe adds c to group. Observers get the snapshot before any event
// published after they joined.
func (h *Hub) Subscribe(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}

	joined, ok := h.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[c] = joined
	}
	joined[group] = struct{}{}

	if group == GroupObservers && h.snapshot != nil {
		if msg, err := encode(EventInitialData, h.snapshot()); err == nil {
			c.enqueue(msg)
		} else {
			h.logger.Error("encode snapshot", zap.Error(err))
		}
	}
	h.recordSizeLocked(group)
}

// Publish delivers an event to every current member of group. Members whose
// queue is full are dropped and closed.
func (h *Hub) Publish(group, kind string, payload any) {
	msg, err := encode(kind, payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("type", kind), zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.groups[group] {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber", zap.String("client", c.ID), zap.String("group", group))
		h.metrics.IncDropped()
		h.Unsubscribe(c)
		c.Close()
	}
}

// Send delivers an event to one client only.
func (h *Hub) Send(c *Client, kind string, payload any) bool {
	msg, err := encode(kind, payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("type", kind), zap.Error(err))
		return false
	}
	return c.enqueue(msg)
}

// Unsubscribe removes c from every group. It is idempotent.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group := range h.memberships[c] {
		members := h.groups[group]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
		h.recordSizeLocked(group)
	}
	delete(h.memberships, c)
}

// Count returns the number of members in group.
func (h *Hub) Count(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) recordSizeLocked(group string) {
	if h.metrics == nil {
		return
	}
	if group == GroupObservers {
		h.metrics.SetSubscribers(GroupObservers, len(h.groups[group]))
		return
	}
	if strings.HasPrefix(group, workerGroupPrefix) {
		phones := 0
		for g, members := range h.groups {
			if strings.HasPrefix(g, workerGroupPrefix) {
				phones += len(members)
			}
		}
		h.metrics.SetSubscribers("workers", phones)
	}
}

func encode(kind string, payload any) ([]byte, error) {
	return json.Marshal(Event{Type: kind, Payload: payload})
}

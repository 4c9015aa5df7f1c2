// Package ingest orchestrates the helmet and phone update paths.
//
// Every mutation goes through the state store's per-worker merge, and the
// resulting events are published from inside the merge so observers see one
// worker's updates in the order they were applied. The liveness sweep uses the
// same path.
package ingest

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/hub"
	"github.com/ssd-technologies/hardhat/internal/metrics"
	"github.com/ssd-technologies/hardhat/internal/registry"
	"github.com/ssd-technologies/hardhat/internal/state"
	"github.com/ssd-technologies/hardhat/internal/telemetry"
)

// DefaultHeartbeatTimeout is how long a phone may stay silent before the
// sweep marks it disconnected.
const DefaultHeartbeatTimeout = 60 * time.Second

// DefaultGPSSource is recorded when a phone omits the location source.
const DefaultGPSSource = "phone-gps"

var (
	// ErrMissingWorkerID is returned when no identifier could be resolved.
	ErrMissingWorkerID = telemetry.ErrMissingWorkerID
	// ErrMissingName is returned when a registration has no name.
	ErrMissingName = errors.New("name is required")
)

// Publisher delivers events to a subscriber group.
type Publisher interface {
	Publish(group, kind string, payload any)
}

// Sink receives every published worker record. Enqueue must not block.
type Sink interface {
	Enqueue(rec state.WorkerRecord)
}

// PhoneEvent is the payload of phone-connected and phone-disconnected.
type PhoneEvent struct {
	WorkerID string `json:"workerId"`
}

// LocationEvent is the lightweight event observers receive for every phone
// location.
type LocationEvent struct {
	WorkerID  string    `json:"workerId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Service wires the state store, registry, phone-link tracker and publisher.
type Service struct {
	store    *state.Store
	registry *registry.Registry
	links    *Links
	pub      Publisher
	sinks    []Sink

	aliases          telemetry.Aliases
	heartbeatTimeout time.Duration
	now              func() time.Time
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSinks adds record sinks fed after every published upsert.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithHeartbeatTimeout sets the phone liveness timeout.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeatTimeout = d
		}
	}
}

// WithAliases overrides the helmet field aliases.
func WithAliases(a telemetry.Aliases) Option {
	return func(s *Service) { s.aliases = a }
}

// New creates a Service. store should be built with reg as its directory so
// identity is read through on every merge.
func New(store *state.Store, reg *registry.Registry, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store:            store,
		registry:         reg,
		pub:              pub,
		aliases:          telemetry.DefaultAliases,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		now:              time.Now,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.links = NewLinks(s.now)
	return s
}

// Links returns the phone-link tracker.
func (s *Service) Links() *Links {
	return s.links
}

// upsert publishes rec to observers and feeds the sinks. It runs inside the
// worker's merge.
func (s *Service) upsert(rec state.WorkerRecord) {
	s.pub.Publish(hub.GroupObservers, hub.EventSensorUpdate, rec)
	for _, sink := range s.sinks {
		sink.Enqueue(rec)
	}
}

// IngestHelmet normalizes a helmet payload and merges it into the worker's
// record. Location fields are left untouched.
func (s *Service) IngestHelmet(p telemetry.Payload) (state.WorkerRecord, error) {
	r, err := s.aliases.Normalize(p, s.now())
	if err != nil {
		s.metrics.IncRejected("missing_worker_id")
		return state.WorkerRecord{}, err
	}

	helmetAt := r.Timestamp
	rec := s.store.MergeThen(r.WorkerID, func(w *state.WorkerRecord) {
		w.Temperature = telemetry.Positive(r.Temperature)
		w.Humidity = telemetry.Positive(r.Humidity)
		w.GasLevel = telemetry.Positive(r.GasLevel)
		w.AccelX = telemetry.NonZero(r.AccelX)
		w.AccelY = telemetry.NonZero(r.AccelY)
		w.AccelZ = telemetry.NonZero(r.AccelZ)
		w.FallDetected = r.FallDetected
		w.MPUStatus = r.MPUStatus
		w.HelmetConnected = true
		w.HelmetLastUpdate = &helmetAt
		w.PhoneConnected = s.links.Online(r.WorkerID)
	}, s.upsert)

	s.metrics.IncPayload("helmet")
	for _, a := range rec.Alerts {
		s.metrics.IncAlert(a.Type)
	}
	s.logger.Debug("helmet payload", zap.String("worker_id", r.WorkerID), zap.Int("keys", len(p)))
	s.logger.Info("sensor data received",
		zap.String("worker_id", r.WorkerID),
		zap.Float64("temperature", r.Temperature),
		zap.Float64("humidity", r.Humidity),
		zap.Float64("gas_level", r.GasLevel),
		zap.Bool("fall_detected", r.FallDetected),
		zap.String("status", string(rec.Status)),
	)
	return rec, nil
}

// Register validates and stores a registration, then refreshes the worker's
// record if one exists. A persistence failure is logged and does not fail the
// call.
func (s *Service) Register(reg Registration) (registry.Info, error) {
	if reg.WorkerID == "" {
		s.metrics.IncRejected("missing_worker_id")
		return registry.Info{}, ErrMissingWorkerID
	}
	if reg.Name == "" {
		s.metrics.IncRejected("missing_name")
		return registry.Info{}, ErrMissingName
	}

	info, err := s.registry.Register(registry.Info{
		WorkerID:       reg.WorkerID,
		Name:           reg.Name,
		Phone:          registry.OptionalString(reg.Phone),
		EmergencyPhone: registry.OptionalString(reg.EmergencyPhone),
		Address:        registry.OptionalString(reg.Address),
		RegisteredAt:   s.now().UTC(),
	})
	if err != nil {
		s.metrics.IncPersistFailure()
		s.logger.Error("registry persist failed", zap.String("worker_id", reg.WorkerID), zap.Error(err))
	}

	s.store.Modify(reg.WorkerID, func(w *state.WorkerRecord) bool {
		if s.links.Online(reg.WorkerID) {
			w.PhoneConnected = true
		}
		return true
	}, s.upsert)

	s.metrics.IncPayload("register")
	s.logger.Info("worker registered", zap.String("worker_id", info.WorkerID), zap.String("name", info.Name))
	return info, nil
}

// PhoneConnected records a new phone session and notifies observers.
func (s *Service) PhoneConnected(workerID, handle string) {
	s.store.Exclusive(workerID, func(state.Tx) {
		s.links.Connect(workerID, handle)
		s.pub.Publish(hub.GroupObservers, hub.EventPhoneConnected, PhoneEvent{WorkerID: workerID})
	})
	s.logger.Info("phone connected", zap.String("worker_id", workerID), zap.String("conn", handle))
}

// PhoneLocation merges a location fix. Observers get a location event and
// the full record; the phone's group gets an acknowledgment.
func (s *Service) PhoneLocation(workerID string, loc Location) state.WorkerRecord {
	source := loc.Source
	if source == "" {
		source = DefaultGPSSource
	}
	lat, lng, acc := loc.Latitude, loc.Longitude, loc.Accuracy
	fixAt := loc.Timestamp.UTC()

	rec := s.store.MergeThen(workerID, func(w *state.WorkerRecord) {
		s.links.Heartbeat(workerID)
		w.Latitude = &lat
		w.Longitude = &lng
		w.GPSAccuracy = &acc
		w.GPSSource = &source
		w.PhoneConnected = true
		w.PhoneLastUpdate = &fixAt
	}, func(rec state.WorkerRecord) {
		s.pub.Publish(hub.GroupObservers, hub.EventLocationUpdate, LocationEvent{
			WorkerID:  workerID,
			Latitude:  lat,
			Longitude: lng,
			Accuracy:  acc,
			Timestamp: fixAt,
		})
		s.upsert(rec)
		s.pub.Publish(hub.WorkerGroup(workerID), hub.EventLocationReceived, nil)
	})

	s.metrics.IncPayload("location")
	s.logger.Debug("phone location",
		zap.String("worker_id", workerID),
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lng),
		zap.Float64("accuracy", acc),
	)
	return rec
}

// PhoneHeartbeat refreshes liveness. Nothing is broadcast.
func (s *Service) PhoneHeartbeat(workerID string) state.WorkerRecord {
	at := s.now().UTC()
	rec := s.store.Merge(workerID, func(w *state.WorkerRecord) {
		s.links.Heartbeat(workerID)
		w.PhoneConnected = true
		w.PhoneLastHeartbeat = &at
	})
	s.metrics.IncPayload("heartbeat")
	return rec
}

// PhoneDisconnected ends the session identified by handle. It reports false
// and does nothing when handle is no longer the worker's live session.
func (s *Service) PhoneDisconnected(workerID, handle string) bool {
	removed := false
	s.store.Exclusive(workerID, func(tx state.Tx) {
		if !s.links.Disconnect(workerID, handle) {
			return
		}
		removed = true
		if rec, ok := tx.Modify(func(w *state.WorkerRecord) bool {
			w.PhoneConnected = false
			return true
		}); ok {
			s.upsert(rec)
		}
		s.pub.Publish(hub.GroupObservers, hub.EventPhoneDisconnected, PhoneEvent{WorkerID: workerID})
	})
	if !removed {
		return false
	}
	s.logger.Info("phone disconnected", zap.String("worker_id", workerID), zap.String("conn", handle))
	return true
}

// Sweep marks phones whose last heartbeat is older than the timeout as
// disconnected and returns how many were demoted. Workers that never sent a
// heartbeat are not evaluated.
func (s *Service) Sweep() int {
	demoted := 0
	for _, rec := range s.store.GetAll() {
		if !s.stale(rec, s.now()) {
			continue
		}
		workerID := rec.WorkerID
		_, changed := s.store.Modify(workerID, func(w *state.WorkerRecord) bool {
			if !s.stale(*w, s.now()) {
				return false
			}
			w.PhoneConnected = false
			return true
		}, func(rec state.WorkerRecord) {
			s.links.MarkStale(workerID)
			s.upsert(rec)
			s.pub.Publish(hub.GroupObservers, hub.EventPhoneDisconnected, PhoneEvent{WorkerID: workerID})
		})
		if changed {
			demoted++
			s.metrics.IncPhoneTimeout()
			s.logger.Warn("phone heartbeat timed out", zap.String("worker_id", workerID))
		}
	}
	return demoted
}

func (s *Service) stale(rec state.WorkerRecord, now time.Time) bool {
	if !rec.PhoneConnected || rec.PhoneLastHeartbeat == nil {
		return false
	}
	return now.Sub(*rec.PhoneLastHeartbeat) > s.heartbeatTimeout
}

// Workers returns every record in first-seen order.
func (s *Service) Workers() []state.WorkerRecord {
	return s.store.GetAll()
}

// Worker returns one record.
func (s *Service) Worker(workerID string) (state.WorkerRecord, bool) {
	return s.store.Get(workerID)
}

// Registrations returns every registration.
func (s *Service) Registrations() []registry.Info {
	return s.registry.List()
}

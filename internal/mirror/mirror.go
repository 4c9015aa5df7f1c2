// Package mirror copies published worker records to Redis so other processes
// can read current state and follow updates.
//
// Each record is written as HSET worker:<id>:state and announced on the
// workers:updates channel. Writes are batched by a single goroutine and never
// block the ingest path: when the queue is full the record is dropped.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/config"
	"github.com/ssd-technologies/hardhat/internal/metrics"
	"github.com/ssd-technologies/hardhat/internal/state"
)

// UpdatesChannel receives every mirrored record as JSON.
const UpdatesChannel = "workers:updates"

const (
	batchSize     = 100
	flushInterval = 50 * time.Millisecond
	drainTimeout  = 2 * time.Second
)

// StateKey is the hash holding a worker's latest record.
func StateKey(workerID string) string {
	return fmt.Sprintf("worker:%s:state", workerID)
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Mirror is a queued Redis writer.
type Mirror struct {
	client  redis.Cmdable
	ch      chan state.WorkerRecord
	dropped atomic.Uint64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mirror) { m.metrics = mt }
}

// New creates a Mirror with a queue of buffer records.
func New(client redis.Cmdable, buffer int, opts ...Option) *Mirror {
	if buffer < 1 {
		buffer = 1
	}
	m := &Mirror{
		client: client,
		ch:     make(chan state.WorkerRecord, buffer),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue queues rec for writing without blocking.
func (m *Mirror) Enqueue(rec state.WorkerRecord) {
	select {
	case m.ch <- rec:
	default:
		m.dropped.Add(1)
		m.metrics.IncMirrorDropped()
	}
}

// Dropped returns how many records were not queued.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Run writes queued records until ctx is cancelled, then drains what is
// already queued.
func (m *Mirror) Run(ctx context.Context) {
	batch := make([]state.WorkerRecord, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-m.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				m.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			m.drain(batch)
			return
		}
	}
}

func (m *Mirror) drain(batch []state.WorkerRecord) {
	for len(m.ch) > 0 {
		batch = append(batch, <-m.ch)
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	m.flush(ctx, batch)
}

func (m *Mirror) flush(ctx context.Context, batch []state.WorkerRecord) {
	if err := m.write(ctx, batch); err != nil {
		m.logger.Warn("redis mirror write failed", zap.Int("records", len(batch)), zap.Error(err))
	}
}

func (m *Mirror) write(ctx context.Context, batch []state.WorkerRecord) error {
	pipe := m.client.Pipeline()
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal worker %s: %w", rec.WorkerID, err)
		}
		pipe.HSet(ctx, StateKey(rec.WorkerID), map[string]any{
			"data":        data,
			"status":      string(rec.Status),
			"last_update": rec.LastUpdate.Unix(),
		})
		pipe.Publish(ctx, UpdatesChannel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

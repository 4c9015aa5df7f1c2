package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runLivenessSweep(ctx)
	if s.limiter != nil {
		go s.runRateLimitCleanup(ctx)
	}
}

// --- Liveness Sweep Worker ---

// runLivenessSweep demotes phones whose heartbeat has gone quiet.
func (s *Server) runLivenessSweep(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if n := s.svc.Sweep(); n > 0 {
				s.logger.Info("liveness sweep", zap.Int("phones_disconnected", n))
			}
		}
	}
}

// --- Rate Limit Cleanup Worker ---

// runRateLimitCleanup drops expired per-IP windows every minute.
func (s *Server) runRateLimitCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			if n := s.limiter.cleanup(); n > 0 {
				s.logger.Debug("rate limiter cleanup", zap.Int("removed", n))
			}
		}
	}
}

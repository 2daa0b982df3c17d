// Package cleanup provides the InvocationLog retention sweeper: the
// periodic job that enforces INVOCATION_LOG_TTL_DAYS by deleting expired
// events (spec §4.3's TTL contract). The InvocationLog's own drain loop
// only appends; expiry is handled out-of-band here so multiple instances
// sweeping concurrently is harmless (DeleteExpired is idempotent).
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/comdaze/openmcpskills/pkg/invocationlog"
)

// Service periodically calls DeleteExpired on the InvocationLog's
// backing store. Safe to run from multiple instances simultaneously.
type Service struct {
	store    invocationlog.Store
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a retention Service. interval defaults to 1 hour
// if non-positive.
func NewService(store invocationlog.Store, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, interval: interval, logger: logger}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention sweeper started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	n, err := s.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep deleted expired invocation events", "count", n)
	}
}

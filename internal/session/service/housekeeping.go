package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campuskit/sessiond/internal/session/store"
)

// HousekeepingService periodically purges session rows that reached a
// terminal state (revoked or refresh-expired) longer ago than the retention
// window. Live sessions are never touched; the retention window exists so the
// audit trail outlives the session by an operator-chosen margin instead of
// growing forever.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. Interval defaults to
// 1 hour, retention to 90 days.
func NewHousekeepingService(
	st store.Store,
	logger *slog.Logger,
	interval, retention time.Duration,
) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:     st,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started",
		"interval", s.Interval, "retention", s.Retention)
}

// Stop shuts down the worker and blocks until any in-progress purge finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.purge()

	for {
		select {
		case <-ticker.C:
			s.purge()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.Retention)
	purged, err := s.Store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Error("session purge failed", "error", err)
		return
	}
	if purged > 0 {
		s.Logger.Info("purged terminal sessions", "count", purged, "cutoff", cutoff)
	}
}

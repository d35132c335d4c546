package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/metrics"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
)

// HousekeepingService periodically deletes expired pending logins, sessions
// and WebAuthn challenges.
type HousekeepingService struct {
	Store      store.Store
	Challenges store.Challenges
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Interval   time.Duration
	Now        func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0 or
// negative, it defaults to 15 minutes. Challenges defaults to the store's.
func NewHousekeepingService(st store.Store, challenges store.Challenges, m *metrics.Metrics, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if challenges == nil {
		challenges = st.Challenges()
	}

	return &HousekeepingService{
		Store:      st,
		Challenges: challenges,
		Metrics:    m,
		Logger:     logger,
		Interval:   interval,
		Now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each deletion is independent; a failure in one
// does not stop the others. It returns the number of deleted records.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	now := s.Now()
	var total int64

	jobs := []struct {
		kind string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"pending_logins", s.Store.PendingLogins().DeleteExpired},
		{"sessions", s.Store.Sessions().DeleteExpired},
		{"challenges", s.Challenges.DeleteExpired},
	}
	for _, job := range jobs {
		n, err := job.fn(ctx, now)
		if err != nil {
			s.Logger.Error("failed to delete expired records", "kind", job.kind, "error", err)
			continue
		}
		s.Metrics.Cleaned(job.kind, n)
		total += n
	}

	s.Logger.Debug("housekeeping cleanup completed", "deleted", total)
	return total
}

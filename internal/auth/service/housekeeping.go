package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/security"
)

// DefaultKeyRetention keeps retired signing keys published long enough for
// every token they signed to expire.
const DefaultKeyRetention = 30 * 24 * time.Hour

// HousekeepingService periodically removes expired tokens, codes, sessions
// and long retired signing keys.
type HousekeepingService struct {
	Store    store.Store
	Sessions security.SessionStore // optional
	Logger   *slog.Logger
	Interval time.Duration

	KeyRetention time.Duration
	Now          func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to one hour.
func NewHousekeepingService(s store.Store, sessions security.SessionStore, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:        s,
		Sessions:     sessions,
		Logger:       logger,
		Interval:     interval,
		KeyRetention: DefaultKeyRetention,
		Now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the cleanup loop in the background until Stop.
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

// Cleanup runs every deletion once. A failing step does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) map[string]int {
	now := s.Now().UTC()
	removed := make(map[string]int, 4)

	step := func(name string, fn func() (int, error)) {
		n, err := fn()
		if err != nil {
			s.Logger.Error("housekeeping step failed", "step", name, "error", err)
			return
		}
		removed[name] = n
	}

	step("tokens", func() (int, error) { return s.Store.Tokens().DeleteExpiredTokens(ctx, now) })
	step("codes", func() (int, error) { return s.Store.AuthorizationCodes().DeleteExpiredCodes(ctx, now) })
	if s.Sessions != nil {
		step("sessions", func() (int, error) { return s.Sessions.DeleteExpired(ctx) })
	}
	step("signing_keys", func() (int, error) {
		return s.Store.SigningKeys().DeleteRetiredSigningKeys(ctx, now.Add(-s.KeyRetention))
	})

	s.Logger.Info("housekeeping cleanup completed",
		"tokens", removed["tokens"],
		"codes", removed["codes"],
		"sessions", removed["sessions"],
		"signing_keys", removed["signing_keys"],
	)
	return removed
}

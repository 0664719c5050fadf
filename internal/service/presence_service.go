package service

import (
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/stream"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPresenceLease     = 90 * time.Second
)

// PresenceService tracks which users are online. Online status is a lease:
// clients renew it with Heartbeat, and a background sweeper takes users
// offline once their lease runs out.
type PresenceService struct {
	store    repo.PresenceRepository
	notifier *stream.Notifier
	now      Clock
	lease    time.Duration
	interval time.Duration
	logger   *zap.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPresenceService(store repo.PresenceRepository, notifier *stream.Notifier, heartbeat, lease time.Duration, now Clock, logger *zap.Logger) *PresenceService {
	if now == nil {
		now = time.Now
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if lease <= heartbeat {
		lease = 3 * heartbeat
	}
	return &PresenceService{
		store:    store,
		notifier: notifier,
		now:      now,
		lease:    lease,
		interval: heartbeat,
		logger:   logger.With(zap.String("component", "presence")),
		done:     make(chan struct{}),
	}
}

// SetOnline starts or renews the user's lease.
func (s *PresenceService) SetOnline(ctx context.Context, userID string) error {
	_, err := s.renew(ctx, userID)
	if err != nil {
		return err
	}
	s.notifier.Notify(stream.OnlineUsers)
	return nil
}

// Heartbeat renews the lease and only publishes when the user was not already
// online.
func (s *PresenceService) Heartbeat(ctx context.Context, userID string) error {
	wasOnline, err := s.renew(ctx, userID)
	if err != nil {
		return err
	}
	if !wasOnline {
		s.notifier.Notify(stream.OnlineUsers)
	}
	return nil
}

func (s *PresenceService) renew(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrMissingParticipant
	}

	now := s.now().UTC()
	prev, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}

	err = s.store.Upsert(ctx, model.Presence{
		UserID:    userID,
		Status:    model.PresenceOnline,
		LastSeen:  now,
		ExpiresAt: now.Add(s.lease),
	})
	if err != nil {
		return false, err
	}
	return prev.IsOnlineAt(now), nil
}

func (s *PresenceService) SetOffline(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingParticipant
	}

	now := s.now().UTC()
	err := s.store.Upsert(ctx, model.Presence{
		UserID:    userID,
		Status:    model.PresenceOffline,
		LastSeen:  now,
		ExpiresAt: now,
	})
	if err != nil {
		return err
	}

	s.notifier.Notify(stream.OnlineUsers)
	return nil
}

// Get returns the user's presence with an elapsed lease reported as offline.
func (s *PresenceService) Get(ctx context.Context, userID string) (*model.Presence, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !p.IsOnlineAt(s.now()) {
		p.Status = model.PresenceOffline
	}
	return p, nil
}

// OnlineUsers returns the sorted ids of users holding a live lease.
func (s *PresenceService) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.store.ListOnline(ctx, s.now())
}

func (s *PresenceService) SubscribeOnlineUsers(ctx context.Context) *stream.Subscription[[]string] {
	return stream.Watch(ctx, s.notifier, s.OnlineUsers, s.logger, stream.OnlineUsers)
}

// Start runs the lease sweeper in the background. Only the first call starts it.
func (s *PresenceService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.logger.Info("presence sweeper started",
			zap.Duration("interval", s.interval),
			zap.Duration("lease", s.lease),
		)
	})
}

// Stop shuts the sweeper down. Safe to call multiple times.
func (s *PresenceService) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.logger.Info("presence sweeper stopped")
	})
}

func (s *PresenceService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every lease that ended and republishes the online set when
// anything changed.
func (s *PresenceService) Sweep(ctx context.Context) {
	now := s.now()

	expired, err := s.store.Expire(ctx, now)
	if err != nil {
		s.logger.Warn("failed to expire presence leases", zap.Error(err))
		return
	}

	if online, err := s.store.ListOnline(ctx, now); err == nil {
		metrics.OnlineUsers.Set(float64(len(online)))
	}

	if len(expired) == 0 {
		return
	}

	metrics.PresenceExpirations.Add(float64(len(expired)))
	s.logger.Info("presence leases expired", zap.Strings("user_ids", expired))
	s.notifier.Notify(stream.OnlineUsers)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spidees/scum-server-automation/internal/domain"
)

// HealthResult is the outcome of one health check. The boolean the old
// automation returned could not distinguish "throttled" from "tried and
// failed"; callers get the full picture here.
type HealthResult int

const (
	Healthy HealthResult = iota
	CooldownActive
	RecoveryFailed
	RecoverySucceeded
	RecoveryExhausted
)

func (r HealthResult) String() string {
	switch r {
	case Healthy:
		return "healthy"
	case CooldownActive:
		return "cooldown_active"
	case RecoveryFailed:
		return "recovery_failed"
	case RecoverySucceeded:
		return "recovery_succeeded"
	case RecoveryExhausted:
		return "recovery_exhausted"
	default:
		return "unknown"
	}
}

// urlSource yields the gateway websocket URL (one-time REST bootstrap)
type urlSource interface {
	GatewayURL(ctx context.Context) (string, error)
}

// SupervisorConfig is the recovery policy knobs
type SupervisorConfig struct {
	Token               string
	Intents             int
	HandshakeTimeout    time.Duration
	RecoveryCooldown    time.Duration
	MaxRecoveryAttempts int
	CloseTimeout        time.Duration
	SettleDelay         time.Duration
	PresenceSettle      time.Duration
}

func (c *SupervisorConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 60 * time.Second
	}
	if c.RecoveryCooldown == 0 {
		c.RecoveryCooldown = 30 * time.Second
	}
	if c.MaxRecoveryAttempts == 0 {
		c.MaxRecoveryAttempts = 3
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 3 * time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.PresenceSettle == 0 {
		c.PresenceSettle = 2 * time.Second
	}
}

// Supervisor owns the single live gateway session: it connects, watches
// zombie/handshake/socket-closed signals, and applies the bounded,
// rate-limited reconnection policy. It is the only component that mutates
// session lifecycle state or swaps the socket.
type Supervisor struct {
	cfg      SupervisorConfig
	urls     urlSource
	presence *PresenceUpdater
	log      zerolog.Logger

	lifecycle chan domain.LifecycleEvent
	dispatch  chan *Event

	mu                sync.Mutex
	session           *Session
	scheduler         *HeartbeatScheduler
	schedCancel       context.CancelFunc
	attemptCount      int
	lastAttemptAt     time.Time
	exhaustedNotified bool

	runCancel context.CancelFunc
	runDone   chan struct{}
	stopOnce  sync.Once
}

// NewSupervisor creates a supervisor; Start establishes the first session
func NewSupervisor(cfg SupervisorConfig, urls urlSource, presence *PresenceUpdater, log zerolog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:       cfg,
		urls:      urls,
		presence:  presence,
		log:       log.With().Str("component", "supervisor").Logger(),
		lifecycle: make(chan domain.LifecycleEvent, 16),
		dispatch:  make(chan *Event, 64),
		runDone:   make(chan struct{}),
	}
}

// Lifecycle delivers connected/degraded/reconnected/exhausted events.
// The channel is buffered and never blocks the supervisor loop; slow
// consumers lose events rather than stalling recovery.
func (s *Supervisor) Lifecycle() <-chan domain.LifecycleEvent { return s.lifecycle }

// Dispatch delivers application events across session generations
func (s *Supervisor) Dispatch() <-chan *Event { return s.dispatch }

// Start connects the first session and launches the supervision loop
func (s *Supervisor) Start(ctx context.Context) error {
	session, scheduler, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.session = session
	s.scheduler = scheduler
	s.mu.Unlock()
	s.emit(domain.EventGatewayConnected, "session established")

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	go s.run(runCtx)
	return nil
}

// Stop cancels all workers and closes the session gracefully. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if s.runCancel != nil {
			s.runCancel()
			<-s.runDone
		}
		s.mu.Lock()
		session := s.session
		cancel := s.schedCancel
		s.session = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if session != nil {
			session.Close(s.cfg.CloseTimeout)
		}
		s.log.Info().Msg("supervisor stopped")
	})
}

// ResetRecovery clears the attempt counter after operator intervention
// (manual reconnect command or token rotation).
func (s *Supervisor) ResetRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptCount = 0
	s.exhaustedNotified = false
}

// SessionState reports the live session's state, or Disconnected
func (s *Supervisor) SessionState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return StateDisconnected
	}
	return s.session.State()
}

// AttemptCount reports the consecutive failed recovery attempts
func (s *Supervisor) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptCount
}

// run is the supervisor loop: sole owner of state transitions. It forwards
// dispatch events, reacts to zombie and read failures, and drives the
// recovery policy. All waits are bounded.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.runDone)
	ticker := time.NewTicker(s.cfg.RecoveryCooldown / 2)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		session := s.session
		scheduler := s.scheduler
		s.mu.Unlock()

		var (
			sessionEvents <-chan *Event
			sessionErrs   <-chan error
			zombie        <-chan struct{}
		)
		if session != nil {
			sessionEvents = session.Dispatch()
			sessionErrs = session.Errors()
		}
		if scheduler != nil {
			zombie = scheduler.Zombie()
		}

		select {
		case <-ctx.Done():
			return

		case ev := <-sessionEvents:
			select {
			case s.dispatch <- ev:
			default:
				s.log.Warn().Str("event", ev.Name).Msg("dispatch consumer behind, dropping event")
			}

		case err := <-sessionErrs:
			reason := "socket closed"
			if errors.Is(err, ErrAuthenticationRejected) {
				// Distinct from a network blip so operators can tell a
				// bad token apart from transient loss.
				reason = "authentication rejected"
			}
			s.log.Warn().Err(err).Msg("session failed")
			session.SetDegraded()
			s.emit(domain.EventGatewayDegraded, reason)
			s.CheckHealth(ctx)

		case <-zombie:
			s.log.Warn().Msg("zombie connection detected")
			session.SetDegraded()
			s.emit(domain.EventGatewayDegraded, "heartbeat ack silence")
			s.CheckHealth(ctx)

		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// CheckHealth inspects the live session and, when it is unhealthy, applies
// the recovery policy: at most one attempt per cooldown window, at most
// MaxRecoveryAttempts consecutive failures before automatic recovery stops.
func (s *Supervisor) CheckHealth(ctx context.Context) HealthResult {
	s.mu.Lock()
	if s.session != nil && s.session.State() == StateReady {
		s.mu.Unlock()
		return Healthy
	}

	if s.attemptCount >= s.cfg.MaxRecoveryAttempts {
		notified := s.exhaustedNotified
		s.exhaustedNotified = true
		s.mu.Unlock()
		if !notified {
			s.log.Error().Int("attempts", s.cfg.MaxRecoveryAttempts).
				Msg("recovery attempts exhausted, manual intervention required")
			s.emit(domain.EventRecoveryExhausted,
				fmt.Sprintf("gave up after %d attempts", s.cfg.MaxRecoveryAttempts))
		}
		return RecoveryExhausted
	}

	if !s.lastAttemptAt.IsZero() && time.Since(s.lastAttemptAt) < s.cfg.RecoveryCooldown {
		s.mu.Unlock()
		return CooldownActive
	}

	s.attemptCount++
	s.lastAttemptAt = time.Now()
	attempt := s.attemptCount
	old := s.session
	oldCancel := s.schedCancel
	s.session = nil
	s.scheduler = nil
	s.schedCancel = nil
	s.mu.Unlock()

	s.log.Info().Int("attempt", attempt).Msg("attempting gateway recovery")

	// Tear down the old session before dialing a new one; ownership of
	// the socket handle transfers atomically with the swap above.
	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		old.Close(s.cfg.CloseTimeout)
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return RecoveryFailed
	}

	session, scheduler, err := s.connect(ctx)
	if err != nil {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("recovery attempt failed")
		s.mu.Lock()
		exhausted := s.attemptCount >= s.cfg.MaxRecoveryAttempts
		notified := s.exhaustedNotified
		if exhausted {
			s.exhaustedNotified = true
		}
		s.mu.Unlock()
		if exhausted && !notified {
			s.log.Error().Int("attempts", s.cfg.MaxRecoveryAttempts).
				Msg("recovery attempts exhausted, manual intervention required")
			s.emit(domain.EventRecoveryExhausted,
				fmt.Sprintf("gave up after %d attempts", s.cfg.MaxRecoveryAttempts))
			return RecoveryExhausted
		}
		return RecoveryFailed
	}

	s.mu.Lock()
	s.session = session
	s.scheduler = scheduler
	s.attemptCount = 0
	s.exhaustedNotified = false
	s.mu.Unlock()

	s.emit(domain.EventGatewayReconnected, "session re-established")

	// Give the fresh session a moment before pushing presence at it
	go func() {
		time.Sleep(s.cfg.PresenceSettle)
		s.presence.Apply()
	}()

	return RecoverySucceeded
}

// connect runs the bootstrap call plus a full handshake (this protocol
// does not resume; sequence continuity is intentionally discarded) and
// arms a fresh heartbeat scheduler on success.
func (s *Supervisor) connect(ctx context.Context) (*Session, *HeartbeatScheduler, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	url, err := s.urls.GatewayURL(hctx)
	if err != nil {
		return nil, nil, err
	}

	session := NewSession(url, s.cfg.Token, s.cfg.Intents, s.log)
	if err := session.Connect(hctx); err != nil {
		return nil, nil, err
	}

	scheduler := NewHeartbeatScheduler(session, session.HeartbeatInterval(), s.log)
	schedCtx, schedCancel := context.WithCancel(context.Background())
	go scheduler.Run(schedCtx)

	s.mu.Lock()
	s.schedCancel = schedCancel
	s.mu.Unlock()

	s.presence.Rearm(session, scheduler)
	return session, scheduler, nil
}

// emit hands a lifecycle event to the sink without ever blocking
func (s *Supervisor) emit(eventType, reason string) {
	ev := domain.LifecycleEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}
	select {
	case s.lifecycle <- ev:
	default:
		s.log.Warn().Str("type", eventType).Msg("lifecycle sink full, dropping event")
	}
}

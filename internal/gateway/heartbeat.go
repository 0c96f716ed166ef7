package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrZombieConnection marks a session that stopped acking heartbeats
var ErrZombieConnection = zombieError{}

type zombieError struct{}

func (zombieError) Error() string { return "zombie gateway connection" }

// beater is the slice of Session the scheduler needs; narrowed for tests
type beater interface {
	SendHeartbeat() error
	Acks() <-chan struct{}
}

// HeartbeatScheduler fires one heartbeat per interval, tracks whether the
// last one was acked, and declares the session zombie after three silent
// intervals. One scheduler per session; re-created on reconnect.
type HeartbeatScheduler struct {
	conn     beater
	interval time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	nextDueAt   time.Time
	silentSince time.Time // oldest un-acked send
	ackPending  bool

	zombie     chan struct{}
	zombieOnce sync.Once
}

// NewHeartbeatScheduler creates a scheduler for the given cadence.
// The session's first handshake heartbeat counts as already sent, so the
// next beat is due one full interval from now.
func NewHeartbeatScheduler(conn beater, interval time.Duration, log zerolog.Logger) *HeartbeatScheduler {
	now := time.Now()
	return &HeartbeatScheduler{
		conn:      conn,
		interval:  interval,
		log:       log.With().Str("component", "heartbeat").Logger(),
		nextDueAt: now.Add(interval),
		zombie:    make(chan struct{}, 1),
	}
}

// Zombie signals exactly once when the connection is declared dead
func (h *HeartbeatScheduler) Zombie() <-chan struct{} { return h.zombie }

// Run drives the cadence until the context is cancelled. It is the
// heartbeat timer worker: it never touches session state beyond sending
// frames, and reports failure only through the Zombie channel.
func (h *HeartbeatScheduler) Run(ctx context.Context) {
	for {
		h.mu.Lock()
		wait := time.Until(h.nextDueAt)
		h.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.conn.Acks():
			timer.Stop()
			h.mu.Lock()
			h.ackPending = false
			h.mu.Unlock()
		case <-timer.C:
			if !h.Maintain() {
				return
			}
		}
	}
}

// Maintain sends a heartbeat if one is due, first checking for sustained
// ack silence. Returns false once the session has been declared zombie.
// Also called opportunistically by the presence updater so that presence
// churn never starves the cadence.
func (h *HeartbeatScheduler) Maintain() bool {
	h.mu.Lock()
	// Consume an ack that raced the timer before judging silence
	select {
	case <-h.conn.Acks():
		h.ackPending = false
	default:
	}

	now := time.Now()
	if now.Before(h.nextDueAt) {
		h.mu.Unlock()
		return true
	}

	// A single missed ack is tolerated; only sustained silence is fatal.
	if h.ackPending && now.Sub(h.silentSince) > 3*h.interval {
		h.mu.Unlock()
		h.declareZombie()
		return false
	}

	// The silence clock pins to the first un-acked send; re-sends issued
	// while waiting must not reset it.
	if !h.ackPending {
		h.silentSince = now
	}
	h.nextDueAt = now.Add(h.interval)
	h.ackPending = true
	h.mu.Unlock()

	if err := h.conn.SendHeartbeat(); err != nil {
		h.log.Warn().Err(err).Msg("heartbeat send failed")
		h.declareZombie()
		return false
	}
	return true
}

// AckPending reports whether a sent heartbeat is still awaiting its ack
func (h *HeartbeatScheduler) AckPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ackPending
}

func (h *HeartbeatScheduler) declareZombie() {
	h.zombieOnce.Do(func() {
		h.log.Warn().Msg("no heartbeat ack within grace window, declaring zombie")
		h.zombie <- struct{}{}
	})
}

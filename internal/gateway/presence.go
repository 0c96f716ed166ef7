package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// PresenceStatus is the displayed online status
type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusIdle      PresenceStatus = "idle"
	StatusDND       PresenceStatus = "dnd"
	StatusInvisible PresenceStatus = "invisible"
)

// ActivityKind selects the verb shown before the activity text
type ActivityKind int

const (
	ActivityPlaying   ActivityKind = 0
	ActivityStreaming ActivityKind = 1
	ActivityListening ActivityKind = 2
	ActivityWatching  ActivityKind = 3
	ActivityCustom    ActivityKind = 4
	ActivityCompeting ActivityKind = 5
)

// PresenceUpdater translates the desired displayed status into presence
// frames, throttled to one transmission per configured interval. Calls
// arriving inside the window are dropped; the next trigger transmits
// whatever the latest desired value is by then.
type PresenceUpdater struct {
	interval time.Duration
	log      zerolog.Logger

	mu           sync.Mutex
	session      *Session
	scheduler    *HeartbeatScheduler
	limiter      *rate.Limiter
	status       PresenceStatus
	activityKind ActivityKind
	activityText string
}

// NewPresenceUpdater creates an updater with an offline-looking default
// value until the first upstream status arrives.
func NewPresenceUpdater(interval time.Duration, log zerolog.Logger) *PresenceUpdater {
	return &PresenceUpdater{
		interval:     interval,
		log:          log.With().Str("component", "presence").Logger(),
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		status:       StatusDND,
		activityKind: ActivityWatching,
		activityText: "server offline",
	}
}

// Rearm points the updater at a fresh session and scheduler after a
// reconnect and resets the throttle so the re-applied presence goes out.
// Called only from the supervisor loop.
func (p *PresenceUpdater) Rearm(session *Session, scheduler *HeartbeatScheduler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
	p.scheduler = scheduler
	p.limiter = rate.NewLimiter(rate.Every(p.interval), 1)
}

// SetDesired records the presence the server state wants displayed.
// Single-writer: only the supervisor's scheduling loop calls this.
func (p *PresenceUpdater) SetDesired(status PresenceStatus, kind ActivityKind, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.activityKind = kind
	p.activityText = text
}

// Apply transmits the current desired presence if the session is Ready
// and the interval since the last transmission has elapsed. Returns true
// when a frame was sent.
func (p *PresenceUpdater) Apply() bool {
	p.mu.Lock()
	session, scheduler := p.session, p.scheduler
	payload := PresenceData{
		Activities: []Activity{{Name: p.activityText, Type: int(p.activityKind)}},
		Status:     string(p.status),
	}
	p.mu.Unlock()

	if session == nil || session.State() != StateReady {
		return false
	}

	// Only a successful transmission burns the window, so the token is
	// reserved here and refunded on any failure below.
	p.mu.Lock()
	reservation := p.limiter.Reserve()
	p.mu.Unlock()
	if !reservation.OK() || reservation.Delay() > 0 {
		reservation.Cancel()
		return false
	}

	// Keep the heartbeat cadence fed before spending time on presence
	if scheduler != nil && !scheduler.Maintain() {
		reservation.Cancel()
		return false
	}

	if err := session.SendPresence(payload); err != nil {
		reservation.Cancel()
		p.log.Warn().Err(err).Msg("presence update failed")
		return false
	}
	p.log.Debug().Str("status", string(payload.Status)).Str("activity", payload.Activities[0].Name).Msg("presence applied")
	return true
}

// Run is the presence timer worker: it wakes once per interval and
// transmits the latest desired value.
func (p *PresenceUpdater) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Apply()
		}
	}
}

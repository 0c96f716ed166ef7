package scum

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spidees/scum-server-automation/internal/config"
	"github.com/spidees/scum-server-automation/internal/domain"
)

// offlineAfterFailures is how many consecutive failed queries mark an
// online server offline; one dropped UDP packet is not an outage.
const offlineAfterFailures = 2

// Store is the persistence surface the manager needs
type Store interface {
	UpsertPlayer(ctx context.Context, steamID, name string, seenAt time.Time) (int64, error)
	OpenSession(ctx context.Context, sessionID string, playerID int64, joinedAt time.Time) error
	CloseSession(ctx context.Context, playerID int64, leftAt time.Time) error
	RecordKill(ctx context.Context, kill *domain.Kill) error
}

// Publisher delivers domain events to the rest of the process
type Publisher interface {
	Publish(ev domain.Event) error
}

// Manager watches the game server through its log file and the Steam
// query port, persists player activity, and publishes domain events.
type Manager struct {
	cfg    config.ScumConfig
	store  Store
	bus    Publisher
	client *A2SClient
	tailer *LogTailer
	log    zerolog.Logger

	mu           sync.RWMutex
	status       domain.ServerStatus
	online       map[string]int64 // steam ID -> player ID
	pollFailures int
	onStatus     func(domain.ServerStatus)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager for the configured server
func NewManager(cfg config.ScumConfig, store Store, bus Publisher, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		client: NewA2SClient(),
		log:    log.With().Str("component", "scum").Logger(),
		status: domain.ServerStatus{
			State:      domain.ServerStateOffline,
			MaxPlayers: cfg.MaxPlayers,
		},
		online: make(map[string]int64),
		done:   make(chan struct{}),
	}
}

// OnStatusChange registers a callback invoked after every status change.
// Must be set before Start; the callback runs on manager goroutines.
func (m *Manager) OnStatusChange(fn func(domain.ServerStatus)) {
	m.onStatus = fn
}

// Status returns a copy of the current observed server status
func (m *Manager) Status() domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnlineCount returns the number of players currently tracked as logged in
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.online)
}

// Start begins tailing the log and polling the query port
func (m *Manager) Start(ctx context.Context) error {
	m.tailer = NewLogTailer(m.cfg.LogPath)
	if err := m.tailer.Start(); err != nil {
		return fmt.Errorf("starting log tailer: %w", err)
	}

	m.wg.Add(2)
	go m.processLogLines(ctx)
	go m.pollLoop(ctx)
	return nil
}

// Stop shuts the manager down and waits for its goroutines
func (m *Manager) Stop() {
	close(m.done)
	if m.tailer != nil {
		m.tailer.Stop()
	}
	m.wg.Wait()
}

func (m *Manager) processLogLines(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case err := <-m.tailer.Errors:
			m.log.Warn().Err(err).Msg("log tailer error")
		case line := <-m.tailer.Lines:
			ev := ParseLine(line)
			if ev == nil {
				continue
			}
			m.handleLogEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleLogEvent(ctx context.Context, ev *LogEvent) {
	switch ev.Type {
	case EventTypeLogin:
		data := ev.Data.(LoginData)
		if data.Drone {
			// Drone reconnects are not real joins
			return
		}
		m.handleLogin(ctx, data, ev.Timestamp)

	case EventTypeLogout:
		data := ev.Data.(LogoutData)
		m.handleLogout(ctx, data, ev.Timestamp)

	case EventTypeKill:
		data := ev.Data.(KillData)
		m.handleKill(ctx, data, ev.Timestamp)

	case EventTypeChat:
		data := ev.Data.(ChatData)
		m.publish(domain.EventChat, domain.ChatEvent{
			Name:    data.Name,
			SteamID: data.SteamID,
			Channel: data.Channel,
			Message: data.Message,
		})

	case EventTypeAdminCommand:
		data := ev.Data.(AdminCommandData)
		m.publish(domain.EventAdminCommand, domain.AdminCommandEvent{
			Name:    data.Name,
			SteamID: data.SteamID,
			Command: data.Command,
		})

	case EventTypeGameStarting:
		m.transition(domain.ServerStateStarting, "log: server starting")
	case EventTypeGameOnline:
		m.transition(domain.ServerStateOnline, "log: world up")
	case EventTypeGameStopping:
		m.transition(domain.ServerStateStopping, "log: server exiting")
		// Exit is quick; the poller confirms offline, but close open
		// sessions now so playtime does not leak across a restart.
		m.closeAllSessions(ctx, ev.Timestamp)
	case EventTypeGameVersion:
		data := ev.Data.(GameVersionData)
		m.mu.Lock()
		m.status.Version = data.Version
		m.mu.Unlock()
	}
}

func (m *Manager) handleLogin(ctx context.Context, data LoginData, at time.Time) {
	playerID, err := m.store.UpsertPlayer(ctx, data.SteamID, data.Name, at)
	if err != nil {
		m.log.Error().Err(err).Str("steam_id", data.SteamID).Msg("upserting player")
		return
	}
	sessionID := uuid.NewString()
	if err := m.store.OpenSession(ctx, sessionID, playerID, at); err != nil {
		m.log.Error().Err(err).Str("steam_id", data.SteamID).Msg("opening session")
	}

	m.mu.Lock()
	m.online[data.SteamID] = playerID
	m.status.PlayerCount = len(m.online)
	m.mu.Unlock()

	m.publish(domain.EventPlayerJoin, domain.PlayerJoinEvent{
		Name:    data.Name,
		SteamID: data.SteamID,
	})
	m.notifyStatus()
}

func (m *Manager) handleLogout(ctx context.Context, data LogoutData, at time.Time) {
	m.mu.Lock()
	playerID, known := m.online[data.SteamID]
	delete(m.online, data.SteamID)
	m.status.PlayerCount = len(m.online)
	m.mu.Unlock()

	if known {
		if err := m.store.CloseSession(ctx, playerID, at); err != nil {
			m.log.Error().Err(err).Str("steam_id", data.SteamID).Msg("closing session")
		}
	}

	m.publish(domain.EventPlayerLeave, domain.PlayerLeaveEvent{
		Name:    data.Name,
		SteamID: data.SteamID,
	})
	m.notifyStatus()
}

func (m *Manager) handleKill(ctx context.Context, data KillData, at time.Time) {
	killerID, err := m.store.UpsertPlayer(ctx, data.KillerSteamID, data.KillerName, at)
	if err != nil {
		m.log.Error().Err(err).Msg("upserting killer")
		return
	}
	victimID, err := m.store.UpsertPlayer(ctx, data.VictimSteamID, data.VictimName, at)
	if err != nil {
		m.log.Error().Err(err).Msg("upserting victim")
		return
	}

	distance := parseDistance(data.Distance)
	kill := &domain.Kill{
		KillerID: killerID,
		VictimID: victimID,
		Weapon:   data.Weapon,
		Distance: distance,
		At:       at,
	}
	if err := m.store.RecordKill(ctx, kill); err != nil {
		m.log.Error().Err(err).Msg("recording kill")
	}

	m.publish(domain.EventKill, domain.KillEvent{
		Killer:        data.KillerName,
		KillerSteamID: data.KillerSteamID,
		Victim:        data.VictimName,
		VictimSteamID: data.VictimSteamID,
		Weapon:        data.Weapon,
		Distance:      distance,
	})
}

func (m *Manager) closeAllSessions(ctx context.Context, at time.Time) {
	m.mu.Lock()
	open := make(map[string]int64, len(m.online))
	for steamID, playerID := range m.online {
		open[steamID] = playerID
	}
	m.online = make(map[string]int64)
	m.status.PlayerCount = 0
	m.mu.Unlock()

	for steamID, playerID := range open {
		if err := m.store.CloseSession(ctx, playerID, at); err != nil {
			m.log.Error().Err(err).Str("steam_id", steamID).Msg("closing session on shutdown")
		}
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	info, err := m.client.QueryInfo(m.cfg.Address)
	if err != nil {
		m.mu.Lock()
		m.pollFailures++
		failures := m.pollFailures
		wasOnline := m.status.State == domain.ServerStateOnline
		m.mu.Unlock()

		m.log.Debug().Err(err).Int("failures", failures).Msg("query failed")
		if wasOnline && failures >= offlineAfterFailures {
			m.transition(domain.ServerStateOffline, "query port unreachable")
			m.closeAllSessions(ctx, time.Now().UTC())
		}
		return
	}

	m.mu.Lock()
	m.pollFailures = 0
	m.status.Name = info.Name
	m.status.MaxPlayers = info.MaxPlayers
	m.status.PlayerCount = info.Players
	if info.Version != "" {
		m.status.Version = info.Version
	}
	m.status.LastUpdated = time.Now().UTC()
	wasOffline := m.status.State == domain.ServerStateOffline ||
		m.status.State == domain.ServerStateStopping
	m.mu.Unlock()

	if wasOffline {
		// Server came back without us seeing the startup log lines
		m.transition(domain.ServerStateOnline, "query port reachable")
	} else {
		m.publish(domain.EventServerUpdate, m.Status())
		m.notifyStatus()
	}
}

// transition moves the server state machine and publishes the matching
// lifecycle event. Repeated transitions into the current state are no-ops.
func (m *Manager) transition(state, reason string) {
	m.mu.Lock()
	if m.status.State == state {
		m.mu.Unlock()
		return
	}
	m.status.State = state
	m.status.LastUpdated = time.Now().UTC()
	version := m.status.Version
	m.mu.Unlock()

	m.log.Info().Str("state", state).Str("reason", reason).Msg("server state changed")

	eventType := map[string]string{
		domain.ServerStateStarting: domain.EventServerStarting,
		domain.ServerStateOnline:   domain.EventServerOnline,
		domain.ServerStateStopping: domain.EventServerStopping,
		domain.ServerStateOffline:  domain.EventServerOffline,
	}[state]

	m.publish(eventType, domain.ServerLifecycleEvent{
		State:   state,
		Version: version,
		Reason:  reason,
	})
	m.notifyStatus()
}

func (m *Manager) publish(eventType string, data interface{}) {
	ev := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := m.bus.Publish(ev); err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Msg("publishing event")
	}
}

func (m *Manager) notifyStatus() {
	if m.onStatus == nil {
		return
	}
	m.onStatus(m.Status())
}

func parseDistance(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
	if err != nil {
		return 0
	}
	return d
}

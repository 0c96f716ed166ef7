package scum

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spidees/scum-server-automation/internal/config"
	"github.com/spidees/scum-server-automation/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	players   map[string]int64
	nextID    int64
	opened    []string
	closed    []int64
	kills     []*domain.Kill
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{players: make(map[string]int64)}
}

func (s *fakeStore) UpsertPlayer(ctx context.Context, steamID, name string, seenAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	if id, ok := s.players[steamID]; ok {
		return id, nil
	}
	s.nextID++
	s.players[steamID] = s.nextID
	return s.nextID, nil
}

func (s *fakeStore) OpenSession(ctx context.Context, sessionID string, playerID int64, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, sessionID)
	return nil
}

func (s *fakeStore) CloseSession(ctx context.Context, playerID int64, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, playerID)
	return nil
}

func (s *fakeStore) RecordKill(ctx context.Context, kill *domain.Kill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills = append(s.kills, kill)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *fakePublisher) Publish(ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) byType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestManager() (*Manager, *fakeStore, *fakePublisher) {
	store := newFakeStore()
	pub := &fakePublisher{}
	cfg := config.ScumConfig{MaxPlayers: 64}
	m := NewManager(cfg, store, pub, zerolog.Nop())
	return m, store, pub
}

func loginEvent(steamID, name string) *LogEvent {
	return &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeLogin,
		Data:      LoginData{SteamID: steamID, Name: name, IP: "10.0.0.1"},
	}
}

func TestLoginTracksPlayer(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	m.handleLogEvent(ctx, loginEvent("76561198000000001", "Alice"))

	assert.Equal(t, 1, m.OnlineCount())
	assert.Equal(t, 1, m.Status().PlayerCount)
	require.Len(t, store.opened, 1)

	joins := pub.byType(domain.EventPlayerJoin)
	require.Len(t, joins, 1)
	data := joins[0].Data.(domain.PlayerJoinEvent)
	assert.Equal(t, "Alice", data.Name)
	assert.Equal(t, "76561198000000001", data.SteamID)
}

func TestDroneLoginIgnored(t *testing.T) {
	m, store, pub := newTestManager()

	m.handleLogEvent(context.Background(), &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeLogin,
		Data:      LoginData{SteamID: "76561198000000001", Name: "Alice", Drone: true},
	})

	assert.Equal(t, 0, m.OnlineCount())
	assert.Empty(t, store.opened)
	assert.Empty(t, pub.byType(domain.EventPlayerJoin))
}

func TestLogoutClosesSession(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	m.handleLogEvent(ctx, loginEvent("76561198000000001", "Alice"))
	m.handleLogEvent(ctx, &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeLogout,
		Data:      LogoutData{SteamID: "76561198000000001", Name: "Alice"},
	})

	assert.Equal(t, 0, m.OnlineCount())
	assert.Equal(t, []int64{1}, store.closed)
	assert.Len(t, pub.byType(domain.EventPlayerLeave), 1)
}

func TestLogoutUnknownPlayerStillPublishes(t *testing.T) {
	m, store, pub := newTestManager()

	m.handleLogEvent(context.Background(), &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeLogout,
		Data:      LogoutData{SteamID: "76561198000000009", Name: "Ghost"},
	})

	assert.Empty(t, store.closed)
	assert.Len(t, pub.byType(domain.EventPlayerLeave), 1)
}

func TestKillRecordedWithDistance(t *testing.T) {
	m, store, pub := newTestManager()

	m.handleLogEvent(context.Background(), &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeKill,
		Data: KillData{
			KillerName:    "Alice",
			KillerSteamID: "76561198000000001",
			VictimName:    "Bob",
			VictimSteamID: "76561198000000002",
			Weapon:        "M82A1",
			Distance:      "312.5m",
		},
	})

	require.Len(t, store.kills, 1)
	kill := store.kills[0]
	assert.Equal(t, "M82A1", kill.Weapon)
	assert.Equal(t, 312.5, kill.Distance)
	assert.NotEqual(t, kill.KillerID, kill.VictimID)

	events := pub.byType(domain.EventKill)
	require.Len(t, events, 1)
	data := events[0].Data.(domain.KillEvent)
	assert.Equal(t, "Alice", data.Killer)
	assert.Equal(t, "Bob", data.Victim)
	assert.Equal(t, 312.5, data.Distance)
}

func TestChatPublished(t *testing.T) {
	m, _, pub := newTestManager()

	m.handleLogEvent(context.Background(), &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeChat,
		Data: ChatData{
			SteamID: "76561198000000001",
			Name:    "Alice",
			Channel: "global",
			Message: "hello",
		},
	})

	events := pub.byType(domain.EventChat)
	require.Len(t, events, 1)
	data := events[0].Data.(domain.ChatEvent)
	assert.Equal(t, "global", data.Channel)
	assert.Equal(t, "hello", data.Message)
}

func TestLifecycleTransitions(t *testing.T) {
	m, _, pub := newTestManager()
	ctx := context.Background()

	m.handleLogEvent(ctx, &LogEvent{Timestamp: time.Now().UTC(), Type: EventTypeGameStarting})
	assert.Equal(t, domain.ServerStateStarting, m.Status().State)
	assert.Len(t, pub.byType(domain.EventServerStarting), 1)

	m.handleLogEvent(ctx, &LogEvent{Timestamp: time.Now().UTC(), Type: EventTypeGameOnline})
	assert.Equal(t, domain.ServerStateOnline, m.Status().State)
	assert.Len(t, pub.byType(domain.EventServerOnline), 1)

	// Repeated transition into the same state must not publish again
	m.handleLogEvent(ctx, &LogEvent{Timestamp: time.Now().UTC(), Type: EventTypeGameOnline})
	assert.Len(t, pub.byType(domain.EventServerOnline), 1)
}

func TestStoppingClosesAllSessions(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	m.handleLogEvent(ctx, loginEvent("76561198000000001", "Alice"))
	m.handleLogEvent(ctx, loginEvent("76561198000000002", "Bob"))
	require.Equal(t, 2, m.OnlineCount())

	m.handleLogEvent(ctx, &LogEvent{Timestamp: time.Now().UTC(), Type: EventTypeGameStopping})

	assert.Equal(t, 0, m.OnlineCount())
	assert.Len(t, store.closed, 2)
	assert.Len(t, pub.byType(domain.EventServerStopping), 1)
}

func TestVersionUpdatesStatus(t *testing.T) {
	m, _, _ := newTestManager()

	m.handleLogEvent(context.Background(), &LogEvent{
		Timestamp: time.Now().UTC(),
		Type:      EventTypeGameVersion,
		Data:      GameVersionData{Version: "0.9.512.77650"},
	})

	assert.Equal(t, "0.9.512.77650", m.Status().Version)
}

func TestOnStatusChangeCallback(t *testing.T) {
	m, _, _ := newTestManager()

	var mu sync.Mutex
	var seen []domain.ServerStatus
	m.OnStatusChange(func(s domain.ServerStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	m.handleLogEvent(context.Background(), loginEvent("76561198000000001", "Alice"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 1, seen[len(seen)-1].PlayerCount)
}

func TestParseDistance(t *testing.T) {
	assert.Equal(t, 312.5, parseDistance("312.5m"))
	assert.Equal(t, 0.0, parseDistance(""))
	assert.Equal(t, 0.0, parseDistance("garbage"))
}

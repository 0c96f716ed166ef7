package domain

import "time"

// Event types published on the internal bus
const (
	EventServerStarting = "server_starting"
	EventServerOnline   = "server_online"
	EventServerStopping = "server_stopping"
	EventServerOffline  = "server_offline"
	EventServerUpdate   = "server_update"
	EventPlayerJoin     = "player_join"
	EventPlayerLeave    = "player_leave"
	EventKill           = "kill"
	EventChat           = "chat"
	EventAdminCommand   = "admin_command"
)

// Gateway lifecycle event types (supervisor -> notification sink)
const (
	EventGatewayConnected   = "gateway_connected"
	EventGatewayDegraded    = "gateway_degraded"
	EventGatewayReconnected = "gateway_reconnected"
	EventRecoveryExhausted  = "recovery_exhausted"
)

// Event is the envelope for all bus events
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ServerLifecycleEvent is sent when the game server changes lifecycle state
type ServerLifecycleEvent struct {
	State   string `json:"state"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// PlayerJoinEvent is sent when a player logs in
type PlayerJoinEvent struct {
	Name    string `json:"name"`
	SteamID string `json:"steam_id"`
}

// PlayerLeaveEvent is sent when a player logs out
type PlayerLeaveEvent struct {
	Name    string `json:"name"`
	SteamID string `json:"steam_id"`
}

// KillEvent is sent when a player kills another player
type KillEvent struct {
	Killer        string  `json:"killer"`
	KillerSteamID string  `json:"killer_steam_id"`
	Victim        string  `json:"victim"`
	VictimSteamID string  `json:"victim_steam_id"`
	Weapon        string  `json:"weapon,omitempty"`
	Distance      float64 `json:"distance,omitempty"`
}

// ChatEvent is sent for in-game chat messages
type ChatEvent struct {
	Name    string `json:"name"`
	SteamID string `json:"steam_id"`
	Channel string `json:"channel"` // "global", "local", "squad", "admin"
	Message string `json:"message"`
}

// AdminCommandEvent is sent when an admin command is logged
type AdminCommandEvent struct {
	Name    string `json:"name"`
	SteamID string `json:"steam_id"`
	Command string `json:"command"`
}

// LifecycleEvent is a gateway session lifecycle notification
type LifecycleEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

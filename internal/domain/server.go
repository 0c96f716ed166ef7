package domain

import "time"

// Server lifecycle states derived from the game log
const (
	ServerStateOffline  = "offline"
	ServerStateStarting = "starting"
	ServerStateOnline   = "online"
	ServerStateStopping = "stopping"
)

// ServerStatus is the current observed state of the game server
type ServerStatus struct {
	State       string    `json:"state"`
	Name        string    `json:"name,omitempty"`
	Version     string    `json:"version,omitempty"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	LastUpdated time.Time `json:"last_updated"`
}

// Online reports whether the server is accepting players
func (s *ServerStatus) Online() bool {
	return s.State == ServerStateOnline
}

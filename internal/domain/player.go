package domain

import "time"

// Player is a known player identified by Steam ID
type Player struct {
	ID        int64     `json:"id"`
	SteamID   string    `json:"steam_id"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PlaySession is one login-to-logout stint on the server
type PlaySession struct {
	ID       string     `json:"id"`
	PlayerID int64      `json:"player_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Kill is a recorded player-versus-player kill
type Kill struct {
	ID       int64     `json:"id"`
	KillerID int64     `json:"killer_id"`
	VictimID int64     `json:"victim_id"`
	Weapon   string    `json:"weapon,omitempty"`
	Distance float64   `json:"distance,omitempty"`
	At       time.Time `json:"at"`
}

// LeaderboardEntry is an aggregated per-player stats row
type LeaderboardEntry struct {
	Player      Player  `json:"player"`
	Kills       int64   `json:"kills"`
	Deaths      int64   `json:"deaths"`
	KDRatio     float64 `json:"kd_ratio"`
	PlaytimeSec int64   `json:"playtime_sec"`
}

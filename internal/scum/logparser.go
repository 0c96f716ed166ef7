package scum

import (
	"regexp"
	"strings"
	"time"
)

// LogEvent is a parsed event from the SCUM server log
type LogEvent struct {
	Timestamp time.Time
	Type      string
	Data      interface{}
}

// Event types
const (
	EventTypeLogin        = "login"
	EventTypeLogout       = "logout"
	EventTypeKill         = "kill"
	EventTypeChat         = "chat"
	EventTypeAdminCommand = "admin_command"
	EventTypeGameStarting = "game_starting"
	EventTypeGameOnline   = "game_online"
	EventTypeGameStopping = "game_stopping"
	EventTypeGameVersion  = "game_version"
)

// Event data structures
type LoginData struct {
	SteamID string
	Name    string
	IP      string
	Drone   bool // reconnect within the drone grace window
}

type LogoutData struct {
	SteamID string
	Name    string
}

type KillData struct {
	KillerSteamID string
	KillerName    string
	VictimSteamID string
	VictimName    string
	Weapon        string
	Distance      string
}

type ChatData struct {
	SteamID string
	Name    string
	Channel string // local, global, squad, admin
	Message string
}

type AdminCommandData struct {
	SteamID string
	Name    string
	Command string
}

type GameVersionData struct {
	Version string
}

// Regular expressions for parsing log lines
var (
	// Timestamp prefix: 2024.02.28-18.57.45:
	timestampRegex = regexp.MustCompile(`^(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}):\s*`)

	// Patterns applied after the timestamp is stripped
	loginRegex  = regexp.MustCompile(`^'([\d.:]+) (\d{17}):([^(]+)\((\d+)\)' logged in(\s+as drone)?`)
	logoutRegex = regexp.MustCompile(`^'[\d.:]+ (\d{17}):([^(]+)\((\d+)\)' logged out`)
	killRegex   = regexp.MustCompile(`^Died: ([^(]+) \((\d{17})\), Killer: ([^(]+) \((\d{17})\) Weapon: (\S+)(?: \[([\d.]+m)\])?`)
	chatRegex   = regexp.MustCompile(`^'(\d{17}):([^(]+)\((\d+)\)' '(Local|Global|Squad|Admin):\s*(.+)'$`)
	adminRegex  = regexp.MustCompile(`^'(\d{17}):([^(]+)\((\d+)\)' Command: '(.+)'$`)

	startingRegex = regexp.MustCompile(`^LogSCUM: Starting SCUM server`)
	onlineRegex   = regexp.MustCompile(`^LogWorld: Bringing World .* up for play`)
	stoppingRegex = regexp.MustCompile(`^LogExit: (Preparing to exit|Game engine shut down)`)
	versionRegex  = regexp.MustCompile(`^LogInit: SCUM server version: (\S+)`)
)

const timestampLayout = "2006.01.02-15.04.05"

// ParseLine parses one log line. It returns nil for lines that carry no
// event the automation cares about; the game log is mostly noise.
func ParseLine(line string) *LogEvent {
	ts := time.Now().UTC()
	if m := timestampRegex.FindStringSubmatch(line); m != nil {
		if parsed, err := time.Parse(timestampLayout, m[1]); err == nil {
			ts = parsed
		}
		line = line[len(m[0]):]
	}

	if m := loginRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeLogin, Data: LoginData{
			IP:      m[1],
			SteamID: m[2],
			Name:    strings.TrimSpace(m[3]),
			Drone:   m[5] != "",
		}}
	}

	if m := logoutRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeLogout, Data: LogoutData{
			SteamID: m[1],
			Name:    strings.TrimSpace(m[2]),
		}}
	}

	if m := killRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeKill, Data: KillData{
			VictimName:    strings.TrimSpace(m[1]),
			VictimSteamID: m[2],
			KillerName:    strings.TrimSpace(m[3]),
			KillerSteamID: m[4],
			Weapon:        m[5],
			Distance:      m[6],
		}}
	}

	if m := chatRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeChat, Data: ChatData{
			SteamID: m[1],
			Name:    strings.TrimSpace(m[2]),
			Channel: strings.ToLower(m[4]),
			Message: m[5],
		}}
	}

	if m := adminRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeAdminCommand, Data: AdminCommandData{
			SteamID: m[1],
			Name:    strings.TrimSpace(m[2]),
			Command: m[4],
		}}
	}

	if startingRegex.MatchString(line) {
		return &LogEvent{Timestamp: ts, Type: EventTypeGameStarting}
	}
	if onlineRegex.MatchString(line) {
		return &LogEvent{Timestamp: ts, Type: EventTypeGameOnline}
	}
	if stoppingRegex.MatchString(line) {
		return &LogEvent{Timestamp: ts, Type: EventTypeGameStopping}
	}
	if m := versionRegex.FindStringSubmatch(line); m != nil {
		return &LogEvent{Timestamp: ts, Type: EventTypeGameVersion, Data: GameVersionData{Version: m[1]}}
	}

	return nil
}

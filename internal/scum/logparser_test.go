package scum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineLogin(t *testing.T) {
	ev := ParseLine("2024.02.28-18.57.45: '192.168.1.10 76561199123456789:Bud Spencer(12)' logged in at: X=1000 Y=2000 Z=30")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeLogin, ev.Type)
	assert.Equal(t, time.Date(2024, 2, 28, 18, 57, 45, 0, time.UTC), ev.Timestamp)

	data := ev.Data.(LoginData)
	assert.Equal(t, "76561199123456789", data.SteamID)
	assert.Equal(t, "Bud Spencer", data.Name)
	assert.Equal(t, "192.168.1.10", data.IP)
	assert.False(t, data.Drone)
}

func TestParseLineLoginDrone(t *testing.T) {
	ev := ParseLine("2024.02.28-18.57.45: '192.168.1.10 76561199123456789:Bud Spencer(12)' logged in as drone")
	require.NotNil(t, ev)
	data := ev.Data.(LoginData)
	assert.True(t, data.Drone)
}

func TestParseLineLogout(t *testing.T) {
	ev := ParseLine("2024.02.28-19.10.02: '192.168.1.10 76561199123456789:Bud Spencer(12)' logged out")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeLogout, ev.Type)

	data := ev.Data.(LogoutData)
	assert.Equal(t, "76561199123456789", data.SteamID)
	assert.Equal(t, "Bud Spencer", data.Name)
}

func TestParseLineKill(t *testing.T) {
	ev := ParseLine("2024.02.28-19.01.02: Died: Victim Name (76561198000000001), Killer: Shooter (76561198000000002) Weapon: Weapon_AK47 [123.4m]")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeKill, ev.Type)

	data := ev.Data.(KillData)
	assert.Equal(t, "Victim Name", data.VictimName)
	assert.Equal(t, "76561198000000001", data.VictimSteamID)
	assert.Equal(t, "Shooter", data.KillerName)
	assert.Equal(t, "76561198000000002", data.KillerSteamID)
	assert.Equal(t, "Weapon_AK47", data.Weapon)
	assert.Equal(t, "123.4m", data.Distance)
}

func TestParseLineKillNoDistance(t *testing.T) {
	ev := ParseLine("2024.02.28-19.01.02: Died: A (76561198000000001), Killer: B (76561198000000002) Weapon: Weapon_Knife")
	require.NotNil(t, ev)
	data := ev.Data.(KillData)
	assert.Equal(t, "Weapon_Knife", data.Weapon)
	assert.Empty(t, data.Distance)
}

func TestParseLineChat(t *testing.T) {
	ev := ParseLine("2024.02.28-19.00.00: '76561199123456789:Bud Spencer(12)' 'Global: anyone near the bunker?'")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeChat, ev.Type)

	data := ev.Data.(ChatData)
	assert.Equal(t, "Bud Spencer", data.Name)
	assert.Equal(t, "global", data.Channel)
	assert.Equal(t, "anyone near the bunker?", data.Message)
}

func TestParseLineAdminCommand(t *testing.T) {
	ev := ParseLine("2024.02.28-19.00.00: '76561199123456789:Bud Spencer(12)' Command: 'teleport 0 0 0'")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeAdminCommand, ev.Type)

	data := ev.Data.(AdminCommandData)
	assert.Equal(t, "teleport 0 0 0", data.Command)
	assert.Equal(t, "76561199123456789", data.SteamID)
}

func TestParseLineLifecycle(t *testing.T) {
	cases := []struct {
		line string
		typ  string
	}{
		{"2024.02.28-18.50.00: LogSCUM: Starting SCUM server", EventTypeGameStarting},
		{"2024.02.28-18.52.10: LogWorld: Bringing World /Game/Maps/Island up for play", EventTypeGameOnline},
		{"2024.02.28-23.59.59: LogExit: Preparing to exit", EventTypeGameStopping},
	}
	for _, tc := range cases {
		ev := ParseLine(tc.line)
		require.NotNil(t, ev, tc.line)
		assert.Equal(t, tc.typ, ev.Type)
	}
}

func TestParseLineVersion(t *testing.T) {
	ev := ParseLine("2024.02.28-18.50.01: LogInit: SCUM server version: 0.9.512.77650")
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeGameVersion, ev.Type)
	assert.Equal(t, "0.9.512.77650", ev.Data.(GameVersionData).Version)
}

func TestParseLineNoise(t *testing.T) {
	noise := []string{
		"",
		"2024.02.28-18.57.45: LogStreaming: Flushing async loaders",
		"garbage with no structure",
		"2024.02.28-18.57.45:",
	}
	for _, line := range noise {
		assert.Nil(t, ParseLine(line), line)
	}
}

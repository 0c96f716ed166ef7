// Package storage persists players, play sessions, and kills to SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/spidees/scum-server-automation/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Player methods ---

// UpsertPlayer creates or refreshes a player and returns its ID
func (s *Store) UpsertPlayer(ctx context.Context, steamID, name string, seenAt time.Time) (int64, error) {
	ts := formatTimestamp(seenAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (steam_id, name, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(steam_id) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`, steamID, name, ts, ts)
	if err != nil {
		return 0, err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM players WHERE steam_id = ?", steamID).Scan(&id)
	return id, err
}

// GetPlayerBySteamID returns a player, or nil if unknown
func (s *Store) GetPlayerBySteamID(ctx context.Context, steamID string) (*domain.Player, error) {
	var p domain.Player
	err := s.db.QueryRowContext(ctx, `
		SELECT id, steam_id, name, first_seen, last_seen FROM players WHERE steam_id = ?
	`, steamID).Scan(&p.ID, &p.SteamID, &p.Name, &p.FirstSeen, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayers returns all known players ordered by last seen, newest first
func (s *Store) GetPlayers(ctx context.Context, limit int) ([]domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, steam_id, name, first_seen, last_seen
		FROM players ORDER BY last_seen DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.ID, &p.SteamID, &p.Name, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// --- Session methods ---

// OpenSession records a login. Any session left open for this player is
// closed first; the game log can drop a logout line across a crash.
func (s *Store) OpenSession(ctx context.Context, sessionID string, playerID int64, joinedAt time.Time) error {
	ts := formatTimestamp(joinedAt)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE play_sessions SET left_at = ? WHERE player_id = ? AND left_at IS NULL
	`, ts, playerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO play_sessions (id, player_id, joined_at) VALUES (?, ?, ?)
	`, sessionID, playerID, ts)
	return err
}

// CloseSession records a logout for the player's open session
func (s *Store) CloseSession(ctx context.Context, playerID int64, leftAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE play_sessions SET left_at = ? WHERE player_id = ? AND left_at IS NULL
	`, formatTimestamp(leftAt), playerID)
	return err
}

// --- Kill methods ---

// RecordKill inserts a kill and fills in its ID
func (s *Store) RecordKill(ctx context.Context, kill *domain.Kill) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kills (killer_id, victim_id, weapon, distance, at)
		VALUES (?, ?, ?, ?, ?)
	`, kill.KillerID, kill.VictimID, kill.Weapon, kill.Distance, formatTimestamp(kill.At))
	if err != nil {
		return err
	}
	kill.ID, err = res.LastInsertId()
	return err
}

// --- Aggregates ---

// GetLeaderboard returns per-player kill/death/playtime aggregates ordered
// by kills. Playtime counts closed sessions only.
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.steam_id, p.name, p.first_seen, p.last_seen,
			COALESCE((SELECT COUNT(*) FROM kills k WHERE k.killer_id = p.id), 0) AS kills,
			COALESCE((SELECT COUNT(*) FROM kills k WHERE k.victim_id = p.id), 0) AS deaths,
			COALESCE((SELECT SUM(strftime('%s', ps.left_at) - strftime('%s', ps.joined_at))
				FROM play_sessions ps
				WHERE ps.player_id = p.id AND ps.left_at IS NOT NULL), 0) AS playtime
		FROM players p
		ORDER BY kills DESC, deaths ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.Player.ID, &e.Player.SteamID, &e.Player.Name,
			&e.Player.FirstSeen, &e.Player.LastSeen,
			&e.Kills, &e.Deaths, &e.PlaytimeSec); err != nil {
			return nil, err
		}
		if e.Deaths > 0 {
			e.KDRatio = float64(e.Kills) / float64(e.Deaths)
		} else {
			e.KDRatio = float64(e.Kills)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetPlaytime returns the total closed-session playtime for a player
func (s *Store) GetPlaytime(ctx context.Context, playerID int64) (time.Duration, error) {
	var seconds int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(strftime('%s', left_at) - strftime('%s', joined_at)), 0)
		FROM play_sessions WHERE player_id = ? AND left_at IS NOT NULL
	`, playerID).Scan(&seconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

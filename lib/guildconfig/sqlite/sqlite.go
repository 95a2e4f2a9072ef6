// Package sqlite persists guild settings in SQLite, backing the admin
// configuration surface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uvensys/gatekeeper/lib/guildconfig"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS guild_configs (
	guild_id      TEXT PRIMARY KEY,
	role_ids      TEXT NOT NULL,
	panel_message TEXT NOT NULL,
	timer_minutes INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

// Store reads and upserts guild settings. Implements guildconfig.Source.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite guild configuration store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("guildconfig/sqlite: storage path is required")
	}

	sqlDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("guildconfig/sqlite: can't open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("guildconfig/sqlite: can't ping database: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("guildconfig/sqlite: can't apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, guildID string) (guildconfig.GuildConfig, error) {
	var (
		result  guildconfig.GuildConfig
		roleIDs string
	)

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT guild_id, role_ids, panel_message, timer_minutes FROM guild_configs WHERE guild_id = ?`,
		guildID,
	)

	if err := row.Scan(&result.GuildID, &roleIDs, &result.PanelMessage, &result.TimerMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return guildconfig.GuildConfig{}, fmt.Errorf("%w: %q", guildconfig.ErrNotFound, guildID)
		}

		return guildconfig.GuildConfig{}, fmt.Errorf("guildconfig/sqlite: can't read guild %q: %w", guildID, err)
	}

	if err := json.Unmarshal([]byte(roleIDs), &result.VerifiedRoleIDs); err != nil {
		return guildconfig.GuildConfig{}, fmt.Errorf("guildconfig/sqlite: can't decode role ids for guild %q: %w", guildID, err)
	}

	return result, nil
}

// Upsert validates and stores the guild's settings, replacing any prior row.
func (s *Store) Upsert(ctx context.Context, gc guildconfig.GuildConfig) error {
	if err := gc.Valid(); err != nil {
		return err
	}

	roleIDs, err := json.Marshal(gc.VerifiedRoleIDs)
	if err != nil {
		return fmt.Errorf("guildconfig/sqlite: can't encode role ids: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO guild_configs (guild_id, role_ids, panel_message, timer_minutes, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (guild_id) DO UPDATE SET
	role_ids = excluded.role_ids,
	panel_message = excluded.panel_message,
	timer_minutes = excluded.timer_minutes,
	updated_at = excluded.updated_at`,
		gc.GuildID, string(roleIDs), gc.PanelMessage, gc.TimerMinutes, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("guildconfig/sqlite: can't upsert guild %q: %w", gc.GuildID, err)
	}

	return nil
}

// Package sqlite persists the verification audit log in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uvensys/gatekeeper/lib/audit"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS verification_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	principal_id  TEXT NOT NULL,
	username      TEXT NOT NULL,
	discriminator TEXT NOT NULL,
	guild_id      TEXT NOT NULL,
	guild_name    TEXT NOT NULL,
	verified_at   INTEGER NOT NULL
);
`

// Log appends verification outcomes to an insert-only table, keyed by
// insertion order.
type Log struct {
	sqlDB *sql.DB
}

// Open opens a SQLite audit log and applies the schema.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit/sqlite: storage path is required")
	}

	sqlDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit/sqlite: can't open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("audit/sqlite: can't ping database: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("audit/sqlite: can't apply schema: %w", err)
	}

	return &Log{sqlDB: sqlDB}, nil
}

func (l *Log) Close() error {
	return l.sqlDB.Close()
}

func (l *Log) Append(ctx context.Context, outcome audit.Outcome) error {
	_, err := l.sqlDB.ExecContext(ctx, `
INSERT INTO verification_log (principal_id, username, discriminator, guild_id, guild_name, verified_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.PrincipalID,
		outcome.Username,
		outcome.Discriminator,
		outcome.GuildID,
		outcome.GuildName,
		outcome.VerifiedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("audit/sqlite: can't append outcome: %w", err)
	}

	return nil
}

// Recent returns up to n outcomes, newest first. Operational tooling only;
// the engine never reads the log.
func (l *Log) Recent(ctx context.Context, n int) ([]audit.Outcome, error) {
	rows, err := l.sqlDB.QueryContext(ctx, `
SELECT principal_id, username, discriminator, guild_id, guild_name, verified_at
FROM verification_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("audit/sqlite: can't read outcomes: %w", err)
	}
	defer rows.Close()

	var result []audit.Outcome
	for rows.Next() {
		var (
			outcome    audit.Outcome
			verifiedAt int64
		)

		if err := rows.Scan(
			&outcome.PrincipalID,
			&outcome.Username,
			&outcome.Discriminator,
			&outcome.GuildID,
			&outcome.GuildName,
			&verifiedAt,
		); err != nil {
			return nil, fmt.Errorf("audit/sqlite: can't scan outcome: %w", err)
		}

		outcome.VerifiedAt = time.UnixMilli(verifiedAt).UTC()
		result = append(result, outcome)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit/sqlite: can't iterate outcomes: %w", err)
	}

	return result, nil
}

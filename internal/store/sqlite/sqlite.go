package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/mcconsole/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver,
// CGO-free). DSN is a filesystem path; use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_keys(
			name TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			admin BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS player_sessions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			username TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			connected_at TIMESTAMP NOT NULL,
			disconnected_at TIMESTAMP NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_server ON player_sessions(server);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_username ON player_sessions(username);`,
		`CREATE TABLE IF NOT EXISTS player_counts(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			count INTEGER NOT NULL,
			players TEXT NOT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_counts_server_at ON player_counts(server, at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) AddAPIKey(ctx context.Context, name, key string, admin bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys(name, key, admin, created_at) VALUES(?, ?, ?, ?)`,
		name, key, admin, time.Now().UTC())
	return err
}

func (s *DB) HasAPIKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM api_keys WHERE key = ?`, key).Scan(&n)
	return n > 0, err
}

func (s *DB) IsAdminKey(ctx context.Context, key string) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT admin FROM api_keys WHERE key = ?`, key).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return admin, err
}

func (s *DB) KeyName(ctx context.Context, key string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM api_keys WHERE key = ?`, key).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return name, err
}

func (s *DB) ListAPIKeys(ctx context.Context) ([]store.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, key, admin, created_at FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.APIKey
	for rows.Next() {
		var k store.APIKey
		if err := rows.Scan(&k.Name, &k.Key, &k.Admin, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *DB) DeleteAPIKey(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) OpenSession(ctx context.Context, server, username, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_sessions(server, username, ip, connected_at) VALUES(?, ?, ?, ?)`,
		server, username, ip, at.UTC())
	return err
}

func (s *DB) CloseSession(ctx context.Context, server, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE player_sessions SET disconnected_at = ?
		 WHERE server = ? AND username = ? AND disconnected_at IS NULL`,
		at.UTC(), server, username)
	return err
}

func (s *DB) CloseOpenSessions(ctx context.Context, server string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE player_sessions SET disconnected_at = ?
		 WHERE server = ? AND disconnected_at IS NULL`,
		at.UTC(), server)
	return err
}

func (s *DB) Sessions(ctx context.Context, q store.SessionQuery) ([]store.Session, error) {
	query := `SELECT id, server, username, ip, connected_at, disconnected_at FROM player_sessions WHERE 1=1`
	var args []any
	if q.Server != "" {
		query += ` AND server = ?`
		args = append(args, q.Server)
	}
	if q.Username != "" {
		query += ` AND username = ?`
		args = append(args, q.Username)
	}
	if !q.From.IsZero() {
		query += ` AND connected_at >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND connected_at <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY connected_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Session
	for rows.Next() {
		var sess store.Session
		var disc sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.Server, &sess.Username, &sess.IP, &sess.ConnectedAt, &disc); err != nil {
			return nil, err
		}
		if disc.Valid {
			sess.DisconnectedAt = disc.Time
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *DB) RecordPlayerCount(ctx context.Context, sample store.CountSample) error {
	players, err := json.Marshal(sample.Players)
	if err != nil {
		return err
	}
	at := sample.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO player_counts(server, count, players, at) VALUES(?, ?, ?, ?)`,
		sample.Server, sample.Count, string(players), at.UTC())
	return err
}

func (s *DB) PlayerCounts(ctx context.Context, server string, from, to time.Time) ([]store.CountSample, error) {
	query := `SELECT server, count, players, at FROM player_counts WHERE server = ?`
	args := []any{server}
	if !from.IsZero() {
		query += ` AND at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND at <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.CountSample
	for rows.Next() {
		var c store.CountSample
		var players string
		if err := rows.Scan(&c.Server, &c.Count, &players, &c.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &c.Players); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }

package draft

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps drafts in a local file so they survive a terminal
// restart without the network.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, terminal string, d Draft) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts(terminal, id, name, body, saved_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(terminal, id) DO UPDATE SET name = excluded.name, body = excluded.body, saved_at = excluded.saved_at`,
		terminal, d.ID, d.Name, string(b), d.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite put draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, terminal, id string) (Draft, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM drafts WHERE terminal = ? AND id = ?`, terminal, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("%s: %w", id, ErrDraftNotFound)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("sqlite get draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, terminal, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE terminal = ? AND id = ?`, terminal, id)
	if err != nil {
		return fmt.Errorf("sqlite delete draft: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrDraftNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, terminal string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM drafts WHERE terminal = ? ORDER BY saved_at DESC, id`, terminal)
	if err != nil {
		return nil, fmt.Errorf("sqlite list drafts: %w", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var d Draft
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

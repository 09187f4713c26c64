// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStorage implements Store on a local SQLite database.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at path and applies
// pending migrations.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection serialises writers and keeps CheckAndSet atomic
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RegisterClient upserts a client.
func (s *SQLiteStorage) RegisterClient(ctx context.Context, client *Client) error {
	if client == nil || client.ID == "" {
		return errors.New("client ID is required")
	}
	stored := *client
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling client: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		client.ID, data,
	)
	if err != nil {
		return fmt.Errorf("storing client: %w", err)
	}
	return nil
}

// GetClient loads a client.
func (s *SQLiteStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM clients WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Client", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}
	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("unmarshaling client: %w", err)
	}
	return &client, nil
}

// RegisterScope upserts a scope.
func (s *SQLiteStorage) RegisterScope(ctx context.Context, scope *Scope) error {
	if scope == nil || scope.ID == "" {
		return errors.New("scope ID is required")
	}
	claims, err := json.Marshal(scope.Claims)
	if err != nil {
		return fmt.Errorf("marshaling claims: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scopes (id, description, claims) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET description = excluded.description, claims = excluded.claims`,
		scope.ID, scope.Description, claims,
	)
	if err != nil {
		return fmt.Errorf("storing scope: %w", err)
	}
	return nil
}

// GetScope loads a scope.
func (s *SQLiteStorage) GetScope(ctx context.Context, id string) (*Scope, error) {
	scope := Scope{ID: id}
	var claims []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT description, claims FROM scopes WHERE id = ?`, id,
	).Scan(&scope.Description, &claims)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Scope", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying scope: %w", err)
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &scope.Claims); err != nil {
			return nil, fmt.Errorf("unmarshaling claims: %w", err)
		}
	}
	return &scope, nil
}

// CheckAndSet inserts id unless a live row exists. Expired rows are purged in
// the same transaction.
func (s *SQLiteStorage) CheckAndSet(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, errors.New("replay identifier is required")
	}
	now := s.now()
	until := retainUntil(now, expiresAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM replay_ids WHERE expires_at <= ?`, now.Unix()); err != nil {
		return false, fmt.Errorf("purging replay ids: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO replay_ids (id, expires_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, until.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("recording replay id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return n == 1, nil
}

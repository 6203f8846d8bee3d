// Copyright 2026 Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite is a durable suspend.FrameStore for daemon deployments
// that must survive a restart with pending approvals outstanding. Pure
// Go via modernc.org/sqlite, so it carries no cgo toolchain requirement.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
)

// Store is a SQLite-backed suspend.FrameStore.
type Store struct {
	db *sql.DB
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging for concurrent readers alongside
	// the single writer.
	WAL bool
}

// New opens (and migrates) a SQLite-backed Store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("suspend/sqlite: open: %w", err)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// thrash under concurrent suspend/approve/resume traffic.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("suspend/sqlite: connect: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("suspend/sqlite: pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS suspended_frames (
		token TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		frame TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suspended_frames_expires_at ON suspended_frames(expires_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("suspend/sqlite: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, frame *suspend.Frame, _ time.Duration) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("suspend/sqlite: marshal frame: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspended_frames (token, status, frame, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET status = excluded.status, frame = excluded.frame, expires_at = excluded.expires_at
	`, frame.Token, string(frame.Status), string(payload), frame.ExpiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("suspend/sqlite: put: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, token string) (*suspend.Frame, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT frame FROM suspended_frames WHERE token = ?`, token).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("suspend/sqlite: get: %w", err)
	}

	var frame suspend.Frame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil, false, fmt.Errorf("suspend/sqlite: unmarshal frame: %w", err)
	}
	if frame.Expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suspended_frames WHERE token = ?`, token)
		return nil, false, nil
	}
	return &frame, true, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, token string, expectStatus suspend.Status, next *suspend.Frame) (bool, error) {
	payload, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("suspend/sqlite: marshal frame: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE suspended_frames SET status = ?, frame = ?, expires_at = ?
		WHERE token = ? AND status = ? AND expires_at > ?
	`, string(next.Status), string(payload), next.ExpiresAt.Format(time.RFC3339Nano),
		token, string(expectStatus), time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("suspend/sqlite: compare-and-swap: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("suspend/sqlite: rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM suspended_frames WHERE token = ?`, token); err != nil {
		return fmt.Errorf("suspend/sqlite: delete: %w", err)
	}
	return nil
}

var _ suspend.FrameStore = (*Store)(nil)

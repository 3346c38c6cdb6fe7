// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// PostgresSchema is the PostgreSQL cache schema.
const PostgresSchema = `
create table if not exists sprite_cache (
	key   TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL,
	mtime TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);
`

// Postgres is a PostgreSQL backed Store, allowing a sprite cache to be
// shared between hosts.
type Postgres struct {
	mu    sync.Mutex
	store *pgx.Conn
	log   *slog.Logger
}

// OpenPostgres opens a PostgreSQL cache. See [pgx.Connect] for name handling
// details.
func OpenPostgres(ctx context.Context, name string, log *slog.Logger) (*Postgres, error) {
	db, err := pgx.Connect(ctx, name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(ctx, PostgresSchema)
	if err != nil {
		return nil, errors.Join(err, db.Close(ctx))
	}
	return &Postgres{store: db, log: log.With(slog.String("component", "cache.postgres"))}, nil
}

func txDone(ctx context.Context, tx pgx.Tx, err *error) {
	if *err == nil {
		*err = tx.Commit(ctx)
	} else {
		*err = errors.Join(*err, tx.Rollback(ctx))
	}
}

// Set sets key to the provided value.
func (db *Postgres) Set(ctx context.Context, key, val string) (err error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.String("key", key), slog.Int("len", len(val)))
	if key == "" {
		return errors.New("empty key")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	tx, err := db.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer txDone(ctx, tx, &err)
	_, err = tx.Exec(ctx, `
insert into sprite_cache (key, value) values ($1, $2)
  on conflict (key) do update set value = excluded.value, mtime = now();
`, key, val)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.String("key", key), slog.Any("error", err))
	}
	return err
}

// Get returns the value stored at key. Get returns ErrNotFound if no value
// is found.
func (db *Postgres) Get(ctx context.Context, key string) (string, error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("key", key))
	db.mu.Lock()
	defer db.mu.Unlock()
	var val string
	err := db.store.QueryRow(ctx, `select value from sprite_cache where key = $1`, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("key", key), slog.Any("error", err))
	}
	return val, err
}

// Delete removes the entry at key.
func (db *Postgres) Delete(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(ctx, `delete from sprite_cache where key = $1`, key)
	return err
}

// Close closes the database connection.
func (db *Postgres) Close() error {
	return db.store.Close(context.Background())
}

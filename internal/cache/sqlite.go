// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// DB is an SQLite backed Store.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the SQLite cache schema.
const Schema = `
create table if not exists cache(
	key   TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	upsert = `
insert into cache values(?, ?)
  on conflict do update set value=?;
`

	get = `
select value from cache where key is ?;
`

	delet = `
delete from cache where key is ?;
`

	keys = `
select key from cache order by key;
`
)

// OpenDB opens an SQLite DB, creating the table if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func OpenDB(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &DB{store: db, log: log.With(slog.String("component", "cache.sqlite"))}, nil
}

// Set sets key to the provided value.
func (db *DB) Set(ctx context.Context, key, val string) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.String("key", key), slog.Int("len", len(val)))
	if key == "" {
		return errors.New("empty key")
	}
	db.mu.Lock()
	_, err := db.store.ExecContext(ctx, upsert, key, val, val)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.String("key", key), slog.Any("error", err))
	}
	return err
}

// Get returns the value stored at key. Get returns ErrNotFound if no value
// is found.
func (db *DB) Get(ctx context.Context, key string) (string, error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("key", key))
	db.mu.Lock()
	var val string
	err := db.store.QueryRowContext(ctx, get, key).Scan(&val)
	db.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("key", key), slog.Any("error", err))
	}
	return val, err
}

// Delete removes the entry at key.
func (db *DB) Delete(ctx context.Context, key string) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "delete", slog.String("key", key))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.ExecContext(ctx, delet, key)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "delete", slog.String("key", key), slog.Any("error", err))
	}
	return err
}

// Keys returns the stored keys in lexical order.
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.QueryContext(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var k []string
	for rows.Next() {
		var key string
		err = rows.Scan(&key)
		if err != nil {
			return nil, err
		}
		k = append(k, key)
	}
	return k, rows.Err()
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf bytes.Buffer
	t.Cleanup(func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

func TestStores(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) Handle
	}{
		{
			name: "memory",
			open: func(t *testing.T) Handle {
				h, err := Open(context.Background(), ":memory:", newLogger(t))
				if err != nil {
					t.Fatalf("failed to open store: %v", err)
				}
				return h
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Handle {
				h, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite3"), newLogger(t))
				if err != nil {
					t.Fatalf("failed to open store: %v", err)
				}
				return h
			},
		},
		{
			name: "postgres",
			open: func(t *testing.T) Handle {
				dsn := os.Getenv("FLIPBOOK_TEST_POSTGRES")
				if dsn == "" {
					t.Skip("no postgres database in $FLIPBOOK_TEST_POSTGRES")
				}
				h, err := Open(context.Background(), dsn, newLogger(t))
				if err != nil {
					t.Fatalf("failed to open store: %v", err)
				}
				for _, k := range []string{"spriteImage", "other"} {
					err = h.(*Postgres).Delete(context.Background(), k)
					if err != nil {
						t.Fatalf("failed to clean store: %v", err)
					}
				}
				return h
			},
		},
	}
	for _, s := range stores {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			store := s.open(t)
			defer func() {
				err := store.Close()
				if err != nil {
					t.Errorf("failed to close store: %v", err)
				}
			}()

			_, err := store.Get(ctx, "spriteImage")
			if err != ErrNotFound {
				t.Errorf("unexpected error for missing key: got:%v want:%v", err, ErrNotFound)
			}

			steps := []struct{ key, val string }{
				{"spriteImage", "data:image/jpeg;base64,AAAA"},
				{"other", "data:image/jpeg;base64,BBBB"},
				{"spriteImage", "data:image/jpeg;base64,CCCC"},
			}
			want := make(map[string]string)
			for _, step := range steps {
				err = store.Set(ctx, step.key, step.val)
				if err != nil {
					t.Fatalf("unexpected error setting %q: %v", step.key, err)
				}
				want[step.key] = step.val
				got := make(map[string]string)
				for k := range want {
					got[k], err = store.Get(ctx, k)
					if err != nil {
						t.Errorf("unexpected error getting %q: %v", k, err)
					}
				}
				if !cmp.Equal(got, want) {
					t.Errorf("unexpected store contents:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
				}
			}
		})
	}
}

func TestDBPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite3")
	db, err := OpenDB(path, newLogger(t))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	err = db.Set(ctx, "spriteImage", "value")
	if err != nil {
		t.Fatalf("failed to set value: %v", err)
	}
	err = db.Set(ctx, "", "value")
	if err == nil {
		t.Error("expected error for empty key")
	}
	db.Close()

	db, err = OpenDB(path, newLogger(t))
	if err != nil {
		t.Fatalf("failed to reopen db: %v", err)
	}
	defer db.Close()
	got, err := db.Get(ctx, "spriteImage")
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	if got != "value" {
		t.Errorf("unexpected value: got:%q want:%q", got, "value")
	}
	keys, err := db.Keys(ctx)
	if err != nil {
		t.Fatalf("failed to get keys: %v", err)
	}
	if !cmp.Equal(keys, []string{"spriteImage"}) {
		t.Errorf("unexpected keys: %q", keys)
	}
	err = db.Delete(ctx, "spriteImage")
	if err != nil {
		t.Fatalf("failed to delete value: %v", err)
	}
	_, err = db.Get(ctx, "spriteImage")
	if err != ErrNotFound {
		t.Errorf("unexpected error after delete: got:%v want:%v", err, ErrNotFound)
	}
}

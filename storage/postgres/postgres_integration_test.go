package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ggoodman/idp-sessions-go/storage"
	"github.com/ggoodman/idp-sessions-go/storage/storagetest"
)

// Integration tests are enabled when IDP_TEST_DATABASE_URL is set.

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbURL := os.Getenv("IDP_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("IDP_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	table := "idp_storage_test_" + strings.ToLower(ulid.Make().String())
	s, err := New(ctx, Config{Pool: pool, Table: table})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+s.table)
	})
	return s
}

func TestPostgresStorage_Contract(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		return newTestStorage(t)
	})
}

func TestPostgresStorage_SweepNotifiesExpired(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var got []storage.Eviction
	s.NotifyEvictions("session", func(ev storage.Eviction) { got = append(got, ev) })

	if err := s.Set(ctx, "session", "old", []byte("x"), storage.WithExpiresAt(time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "session", "fresh", []byte("y"), storage.WithTTL(time.Hour)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(got) != 1 || got[0].Key != "old" || got[0].Item != nil {
		t.Fatalf("unexpected evictions: %+v", got)
	}
}

func TestQuoteTable(t *testing.T) {
	cases := map[string]string{
		"idp_storage":   `"idp_storage"`,
		"auth.sessions": `"auth"."sessions"`,
		`weird"name`:    `"weird""name"`,
	}
	for in, want := range cases {
		got, err := quoteTable(in)
		if err != nil {
			t.Fatalf("quoteTable(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("quoteTable(%q) = %s, want %s", in, got, want)
		}
	}

	for _, bad := range []string{"", "a.b.c", ".x"} {
		if _, err := quoteTable(bad); err == nil {
			t.Fatalf("quoteTable(%q): expected error", bad)
		}
	}
}

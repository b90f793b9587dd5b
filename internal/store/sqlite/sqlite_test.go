package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/mcconsole/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestAPIKeyLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddAPIKey(ctx, "admin", "key-admin", true); err != nil {
		t.Fatalf("add admin key: %v", err)
	}
	if err := db.AddAPIKey(ctx, "viewer", "key-viewer", false); err != nil {
		t.Fatalf("add viewer key: %v", err)
	}

	ok, err := db.HasAPIKey(ctx, "key-viewer")
	if err != nil || !ok {
		t.Fatalf("HasAPIKey(key-viewer) = %v, %v", ok, err)
	}
	ok, err = db.HasAPIKey(ctx, "bogus")
	if err != nil || ok {
		t.Fatalf("HasAPIKey(bogus) = %v, %v", ok, err)
	}

	admin, err := db.IsAdminKey(ctx, "key-admin")
	if err != nil || !admin {
		t.Fatalf("IsAdminKey(key-admin) = %v, %v", admin, err)
	}
	admin, err = db.IsAdminKey(ctx, "key-viewer")
	if err != nil || admin {
		t.Fatalf("IsAdminKey(key-viewer) = %v, %v", admin, err)
	}
	if admin, err = db.IsAdminKey(ctx, "bogus"); err != nil || admin {
		t.Fatalf("IsAdminKey(bogus) = %v, %v", admin, err)
	}

	name, err := db.KeyName(ctx, "key-viewer")
	if err != nil || name != "viewer" {
		t.Fatalf("KeyName = %q, %v", name, err)
	}
	if _, err := db.KeyName(ctx, "bogus"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("KeyName(bogus) err = %v, want ErrNotFound", err)
	}

	keys, err := db.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	if err := db.DeleteAPIKey(ctx, "viewer"); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	if err := db.DeleteAPIKey(ctx, "viewer"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestSessionsOpenCloseQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.OpenSession(ctx, "survival", "alice", "10.0.0.1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := db.OpenSession(ctx, "survival", "bob", "10.0.0.2", base.Add(time.Minute)); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := db.CloseSession(ctx, "survival", "alice", base.Add(10*time.Minute)); err != nil {
		t.Fatalf("close session: %v", err)
	}

	got, err := db.Sessions(ctx, store.SessionQuery{Server: "survival", Username: "alice"})
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d", len(got))
	}
	if got[0].DisconnectedAt.IsZero() {
		t.Fatalf("expected closed session")
	}

	// bob is still open until the server-wide close
	if err := db.CloseOpenSessions(ctx, "survival", base.Add(time.Hour)); err != nil {
		t.Fatalf("close open sessions: %v", err)
	}
	got, err = db.Sessions(ctx, store.SessionQuery{Server: "survival", Username: "bob"})
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if len(got) != 1 || got[0].DisconnectedAt.IsZero() {
		t.Fatalf("expected bob closed, got %+v", got)
	}

	// time window excludes both when From is after all connects
	got, err = db.Sessions(ctx, store.SessionQuery{Server: "survival", From: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestPlayerCountsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	samples := []store.CountSample{
		{Server: "survival", Count: 2, Players: []string{"alice", "bob"}, At: base},
		{Server: "survival", Count: 1, Players: []string{"alice"}, At: base.Add(time.Minute)},
		{Server: "creative", Count: 0, Players: []string{}, At: base},
	}
	for _, s := range samples {
		if err := db.RecordPlayerCount(ctx, s); err != nil {
			t.Fatalf("record count: %v", err)
		}
	}

	got, err := db.PlayerCounts(ctx, "survival", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("query counts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Count != 2 || len(got[0].Players) != 2 {
		t.Fatalf("unexpected first sample: %+v", got[0])
	}

	got, err = db.PlayerCounts(ctx, "survival", base.Add(30*time.Second), time.Time{})
	if err != nil {
		t.Fatalf("query counts: %v", err)
	}
	if len(got) != 1 || got[0].Count != 1 {
		t.Fatalf("expected the later sample, got %+v", got)
	}
}

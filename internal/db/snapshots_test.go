package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

func openTestCache(t *testing.T, max int) (*SnapshotCache, *time.Time) {
	t.Helper()
	conn, err := OpenDatabase(filepath.Join(t.TempDir(), "cache", "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	clock := time.UnixMilli(1_000_000)
	cache := NewSnapshotCache(conn, max)
	cache.now = func() time.Time { return clock }
	return cache, &clock
}

func sampleMessages() []types.Message {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return []types.Message{
		{
			Identity:       types.ConfirmedIdentity("S1", "S1"),
			ConversationID: "c1",
			Direction:      types.DirectionInbound,
			Body:           types.Body{Text: "hello", Media: &types.MediaRef{URL: "https://cdn.example.com/a.jpg", Width: 640, Height: 480}},
			CreatedAt:      at,
			Status:         types.StatusRead,
			Origin:         types.OriginServer,
		},
		{
			Identity:       types.OptimisticIdentity("L1"),
			ConversationID: "c1",
			Direction:      types.DirectionOutbound,
			Body:           types.Body{Text: "failed reply"},
			CreatedAt:      at.Add(time.Second),
			Status:         types.StatusFailed,
			Origin:         types.OriginOptimistic,
			Seq:            3,
		},
	}
}

func TestSnapshotCacheKeepsOptimisticEntries(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	if err := cache.Save("c1", sampleMessages()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := cache.Load("c1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if serverID, ok := got[0].ServerID(); !ok || serverID != "S1" {
		t.Fatalf("server id lost: %q", serverID)
	}
	if got[0].Body.Media == nil || got[0].Body.Media.Width != 640 {
		t.Fatalf("media lost: %+v", got[0].Body)
	}
	if _, ok := got[1].ServerID(); ok {
		t.Fatal("optimistic entry gained a server id")
	}
	if got[1].Status != types.StatusFailed || got[1].Seq != 3 || got[1].LocalID() != "L1" {
		t.Fatalf("failed entry changed: %+v", got[1])
	}
}

func TestSnapshotCacheMissingConversation(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	got, ok, err := cache.Load("nope")
	if err != nil || ok || got != nil {
		t.Fatalf("expected miss, got %v %v %v", got, ok, err)
	}
}

func TestSnapshotCacheEvictsOldest(t *testing.T) {
	cache, clock := openTestCache(t, 2)
	confirmed := sampleMessages()[:1]
	for _, id := range []string{"a", "b", "c"} {
		*clock = clock.Add(time.Second)
		if err := cache.Save(id, confirmed); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	infos, err := cache.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].ConversationID != "c" || infos[1].ConversationID != "b" {
		t.Fatalf("unexpected cache contents: %+v", infos)
	}
	if _, ok, _ := cache.Load("a"); ok {
		t.Fatal("expected a evicted")
	}

	// Saving again refreshes recency.
	*clock = clock.Add(time.Second)
	if err := cache.Save("b", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	*clock = clock.Add(time.Second)
	if err := cache.Save("d", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := cache.Load("b"); !ok {
		t.Fatal("expected b kept")
	}
	if _, ok, _ := cache.Load("c"); ok {
		t.Fatal("expected c evicted")
	}
}

func TestSnapshotCachePinsUnsentEntries(t *testing.T) {
	cache, clock := openTestCache(t, 1)
	if err := cache.Save("c1", sampleMessages()); err != nil {
		t.Fatalf("save c1: %v", err)
	}
	for _, id := range []string{"c2", "c3"} {
		*clock = clock.Add(time.Second)
		if err := cache.Save(id, sampleMessages()[:1]); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, ok, err := cache.Load("c1")
	if err != nil || !ok {
		t.Fatalf("snapshot with a failed entry was evicted: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[1].Status != types.StatusFailed {
		t.Fatalf("failed entry lost: %+v", got)
	}
	if _, ok, _ := cache.Load("c2"); ok {
		t.Fatal("expected c2 evicted")
	}

	infos, err := cache.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].ConversationID != "c3" || infos[1].Unconfirmed != 1 {
		t.Fatalf("unexpected cache contents: %+v", infos)
	}

	// Once the entry is confirmed the snapshot competes for space again.
	*clock = clock.Add(time.Second)
	if err := cache.Save("c1", sampleMessages()[:1]); err != nil {
		t.Fatalf("resave c1: %v", err)
	}
	if _, ok, _ := cache.Load("c3"); ok {
		t.Fatal("expected c3 evicted")
	}
}

func TestInitSchemaAddsUnconfirmedColumn(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	if _, err := cache.db.Exec(`DROP TABLE inbox_snapshots`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := cache.db.Exec(`CREATE TABLE inbox_snapshots (
		conversation_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		t.Fatalf("create old layout: %v", err)
	}
	if err := InitSchema(cache.db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := cache.Save("c1", sampleMessages()); err != nil {
		t.Fatalf("save after migrate: %v", err)
	}
}

func TestSnapshotCacheDelete(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	if err := cache.Save("c1", sampleMessages()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cache.Delete("c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := cache.Load("c1"); ok {
		t.Fatal("expected deleted")
	}
}

func TestSnapshotCacheIgnoresOtherSchemaVersions(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	if err := cache.Save("c1", sampleMessages()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := cache.db.Exec(`UPDATE inbox_snapshots SET schema_version = 99`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok, err := cache.Load("c1"); ok || err != nil {
		t.Fatalf("expected stale schema ignored, ok=%v err=%v", ok, err)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	cache, _ := openTestCache(t, 0)
	if err := InitSchema(cache.db); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

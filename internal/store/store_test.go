package store

import (
	"testing"
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

func optimistic(localID, text string, at time.Time) types.Message {
	return types.Message{
		Identity:       types.OptimisticIdentity(localID),
		ConversationID: "c1",
		Direction:      types.DirectionOutbound,
		Body:           types.Body{Text: text},
		CreatedAt:      at,
		Status:         types.StatusPending,
		Origin:         types.OriginOptimistic,
	}
}

func confirmed(localID, serverID, text string, at time.Time) types.Message {
	return types.Message{
		Identity:       types.ConfirmedIdentity(localID, serverID),
		ConversationID: "c1",
		Direction:      types.DirectionInbound,
		Body:           types.Body{Text: text},
		CreatedAt:      at,
		Status:         types.StatusSent,
		Origin:         types.OriginServer,
	}
}

func localIDs(msgs []types.Message) []string {
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.LocalID()
	}
	return ids
}

func TestUpsertAppendsNewMessages(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)

	if idx, inserted := s.Upsert("c1", optimistic("L1", "hi", base)); idx != 0 || !inserted {
		t.Fatalf("first upsert = (%d, %v), want (0, true)", idx, inserted)
	}
	if idx, inserted := s.Upsert("c1", confirmed("S1", "S1", "hello", base.Add(time.Second))); idx != 1 || !inserted {
		t.Fatalf("second upsert = (%d, %v), want (1, true)", idx, inserted)
	}
	if got := len(s.Get("c1")); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
}

func TestUpsertOverwritesInPlaceByLocalID(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Upsert("c1", optimistic("L1", "first", base))
	s.Upsert("c1", optimistic("L2", "second", base.Add(time.Second)))

	confirmedMsg := optimistic("L1", "first", base)
	confirmedMsg.Identity = confirmedMsg.Identity.Confirm("S1")
	confirmedMsg.Status = types.StatusSent

	idx, inserted := s.Upsert("c1", confirmedMsg)
	if idx != 0 || inserted {
		t.Fatalf("upsert = (%d, %v), want (0, false)", idx, inserted)
	}
	got := s.Get("c1")
	if ids := localIDs(got); ids[0] != "L1" || ids[1] != "L2" {
		t.Fatalf("order changed: %v", ids)
	}
	if serverID, ok := got[0].ServerID(); !ok || serverID != "S1" {
		t.Fatalf("server id = %q, %v", serverID, ok)
	}
}

func TestUpsertKeepsLocalIDWhenMatchedByServerID(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	msg := optimistic("L1", "hi", base)
	msg.Identity = msg.Identity.Confirm("S1")
	s.Upsert("c1", msg)

	s.Upsert("c1", confirmed("", "S1", "hi", base))
	got := s.Get("c1")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].LocalID() != "L1" {
		t.Fatalf("local id = %q, want L1", got[0].LocalID())
	}
}

func TestUpsertCollapsesDuplicateEntries(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	// A poll delivered S1 before the send response bound it to L1.
	s.Upsert("c1", optimistic("L1", "hi", base))
	s.Upsert("c1", confirmed("S1", "S1", "hi", base.Add(time.Second)))

	msg := optimistic("L1", "hi", base)
	msg.Identity = msg.Identity.Confirm("S1")
	msg.Status = types.StatusSent
	idx, inserted := s.Upsert("c1", msg)
	if idx != 0 || inserted {
		t.Fatalf("upsert = (%d, %v), want (0, false)", idx, inserted)
	}
	got := s.Get("c1")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %v", len(got), localIDs(got))
	}
	if got[0].LocalID() != "L1" {
		t.Fatalf("local id = %q, want L1", got[0].LocalID())
	}
}

func TestRemoveAndEvict(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Upsert("c1", optimistic("L1", "hi", base))
	s.Upsert("c2", optimistic("L2", "yo", base))

	if !s.Remove("c1", "L1") {
		t.Fatal("expected remove to succeed")
	}
	if s.Remove("c1", "L1") {
		t.Fatal("expected second remove to fail")
	}
	if conv, _, ok := s.Locate("L2"); !ok || conv != "c2" {
		t.Fatalf("locate = %q, %v", conv, ok)
	}
	s.Evict("c2")
	if s.Has("c2") {
		t.Fatal("expected c2 evicted")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("L1", "hi", time.Unix(1000, 0)))
	got := s.Get("c1")
	got[0].Body.Text = "mutated"
	if msg, _ := s.Find("c1", "L1"); msg.Body.Text != "hi" {
		t.Fatalf("store mutated through Get: %q", msg.Body.Text)
	}
}

func TestIndexFollowsShiftedPositions(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Replace("c1", []types.Message{
		confirmed("S1", "S1", "a", base),
		optimistic("L1", "b", base.Add(time.Second)),
		confirmed("S2", "S2", "c", base.Add(2*time.Second)),
		optimistic("L2", "d", base.Add(3*time.Second)),
	})

	if !s.Remove("c1", "S1") {
		t.Fatal("expected remove to succeed")
	}
	// L2 moved from 3 to 2; binding it must overwrite in place.
	sent := optimistic("L2", "d", base.Add(3*time.Second))
	sent.Identity = sent.Identity.Confirm("S3")
	if idx, inserted := s.Upsert("c1", sent); idx != 2 || inserted {
		t.Fatalf("upsert = (%d, %v), want (2, false)", idx, inserted)
	}
	// A server copy without a local id finds it by server id.
	if idx, inserted := s.Upsert("c1", confirmed("", "S3", "d", base.Add(3*time.Second))); idx != 2 || inserted {
		t.Fatalf("server upsert = (%d, %v), want (2, false)", idx, inserted)
	}
	if ids := localIDs(s.Get("c1")); len(ids) != 3 || ids[0] != "L1" || ids[1] != "S2" || ids[2] != "L2" {
		t.Fatalf("unexpected order: %v", ids)
	}

	if conv, msg, ok := s.Locate("L1"); !ok || conv != "c1" || msg.Body.Text != "b" {
		t.Fatalf("locate L1 = %q %+v %v", conv, msg, ok)
	}
	if _, _, ok := s.Locate("S1"); ok {
		t.Fatal("removed entry still located")
	}

	s.Replace("c1", nil)
	if _, _, ok := s.Locate("L1"); ok {
		t.Fatal("replaced entry still located")
	}
}

// Package reconcile merges a freshly polled server page into the local
// view of a conversation without dropping messages the server has not
// caught up with yet.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

// ChangeKind classifies what a merge did to the rendered list.
type ChangeKind int

const (
	// ChangeNone means nothing visible changed; skip rendering.
	ChangeNone ChangeKind = iota
	// ChangeStatus means only delivery statuses moved.
	ChangeStatus
	// ChangeStructural means entries were removed, edited, re-bound or the
	// server total drifted from what we last saw.
	ChangeStructural
	// ChangeAdded means at least one entry is new to the view.
	ChangeAdded
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeStatus:
		return "status"
	case ChangeStructural:
		return "structural"
	case ChangeAdded:
		return "added"
	default:
		return "unknown"
	}
}

// Input carries the policy values for one merge.
type Input struct {
	Now        time.Time
	LastSentAt time.Time
	// Window is the protection window after a local send.
	Window time.Duration
	// KnownTotal is the server total seen on the previous merge, or -1.
	KnownTotal int

	history bool
}

// IdentityConflict records a server id the page bound to a different local
// id than the view had. The server wins.
type IdentityConflict struct {
	ServerID     string
	BoundLocalID string
	ServerLocal  string
}

func (c IdentityConflict) Error() string {
	return fmt.Sprintf("server id %s bound to %s locally, server claims %s", c.ServerID, c.BoundLocalID, c.ServerLocal)
}

// Result is the next list plus what changed.
type Result struct {
	Next   []types.Message
	Change ChangeKind

	Added         int
	Removed       int
	Edited        int
	StatusChanged int
	TotalChanged  bool
	// Prepended is set when an added entry lands before existing content.
	Prepended bool
	// Retained counts local entries kept although the page omitted them.
	Retained int
	// Skipped counts malformed page items.
	Skipped   int
	Conflicts []IdentityConflict
}

// Merge produces the next list for a conversation from its current list and
// a server page. It never fails: malformed page items are skipped one by one.
func Merge(current []types.Message, page types.MessagePage, in Input) Result {
	var res Result

	byServer := make(map[string]int, len(current))
	byLocal := make(map[string]int, len(current))
	for i, msg := range current {
		byLocal[msg.LocalID()] = i
		if serverID, ok := msg.ServerID(); ok {
			byServer[serverID] = i
		}
	}

	incomingIDs := make(map[string]struct{}, len(page.Messages))
	claimedLocal := make(map[string]struct{}, len(page.Messages))
	candidates := make([]types.Message, 0, len(page.Messages)+len(current))
	var oldestIncoming time.Time

	for _, remote := range page.Messages {
		if err := remote.Validate(); err != nil {
			res.Skipped++
			continue
		}
		if _, dup := incomingIDs[remote.ID]; dup {
			res.Skipped++
			continue
		}
		incomingIDs[remote.ID] = struct{}{}

		localID, matched, conflict := bindLocalID(current, byServer, byLocal, remote)
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, *conflict)
		}
		msg := remote.ToMessage(localID)
		if matched >= 0 {
			msg.Seq = current[matched].Seq
			if msg.ConversationID == "" {
				msg.ConversationID = current[matched].ConversationID
			}
		}
		claimedLocal[msg.LocalID()] = struct{}{}
		candidates = append(candidates, msg)
		if oldestIncoming.IsZero() || remote.CreatedAt.Before(oldestIncoming) {
			oldestIncoming = remote.CreatedAt
		}
	}

	recentSend := !in.LastSentAt.IsZero() && in.Now.Sub(in.LastSentAt) <= in.Window
	partial := page.Partial()
	for _, msg := range current {
		if serverID, ok := msg.ServerID(); ok {
			if _, present := incomingIDs[serverID]; present {
				continue
			}
		}
		if _, claimed := claimedLocal[msg.LocalID()]; claimed {
			continue
		}
		switch {
		case in.history:
		case msg.Origin == types.OriginOptimistic:
		case recentSend && in.Now.Sub(msg.CreatedAt) <= in.Window:
		case partial && msg.Identity.Confirmed() && !oldestIncoming.IsZero() && msg.CreatedAt.Before(oldestIncoming):
		default:
			continue
		}
		res.Retained++
		candidates = append(candidates, msg)
	}

	res.Next = dedupe(candidates)
	sortMessages(res.Next)
	classify(&res, current, page, in)
	return res
}

// MergeHistory folds an older page into the current list. Unlike Merge it
// never drops current entries: a history page says nothing about newer ones.
func MergeHistory(current []types.Message, page types.MessagePage, in Input) Result {
	in.history = true
	return Merge(current, page, in)
}

// Order sorts a list the way Merge does, for callers that upsert directly.
func Order(msgs []types.Message) {
	sortMessages(msgs)
}

// bindLocalID picks the local id an incoming item takes over. It returns the
// index of the current entry it replaces, or -1.
func bindLocalID(current []types.Message, byServer, byLocal map[string]int, remote types.RemoteMessage) (string, int, *IdentityConflict) {
	if idx, ok := byServer[remote.ID]; ok {
		bound := current[idx].LocalID()
		if remote.ClientRef == "" || remote.ClientRef == bound {
			return bound, idx, nil
		}
		conflict := &IdentityConflict{ServerID: remote.ID, BoundLocalID: bound, ServerLocal: remote.ClientRef}
		if other, ok := byLocal[remote.ClientRef]; ok {
			return remote.ClientRef, other, conflict
		}
		return remote.ClientRef, -1, conflict
	}
	if remote.ClientRef == "" {
		return remote.ID, -1, nil
	}
	idx, ok := byLocal[remote.ClientRef]
	if !ok {
		return remote.ID, -1, nil
	}
	if serverID, confirmed := current[idx].ServerID(); confirmed && serverID != remote.ID {
		return remote.ClientRef, idx, &IdentityConflict{ServerID: remote.ID, BoundLocalID: serverID, ServerLocal: remote.ClientRef}
	}
	return remote.ClientRef, idx, nil
}

// dedupe keeps the first entry per server id, then per local id.
func dedupe(msgs []types.Message) []types.Message {
	seenServer := make(map[string]struct{}, len(msgs))
	seenLocal := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, msg := range msgs {
		if serverID, ok := msg.ServerID(); ok {
			if _, dup := seenServer[serverID]; dup {
				continue
			}
		}
		if _, dup := seenLocal[msg.LocalID()]; dup {
			continue
		}
		if serverID, ok := msg.ServerID(); ok {
			seenServer[serverID] = struct{}{}
		}
		seenLocal[msg.LocalID()] = struct{}{}
		out = append(out, msg)
	}
	return out
}

// sortMessages orders by timestamp, then send sequence, then merge order.
func sortMessages(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

func classify(res *Result, current []types.Message, page types.MessagePage, in Input) {
	prev := make(map[string]types.Message, len(current))
	for _, msg := range current {
		prev[msg.LocalID()] = msg
	}

	lastExisting := -1
	for i, msg := range res.Next {
		if _, ok := prev[msg.LocalID()]; ok {
			lastExisting = i
		}
	}

	seen := make(map[string]struct{}, len(res.Next))
	for i, msg := range res.Next {
		seen[msg.LocalID()] = struct{}{}
		old, ok := prev[msg.LocalID()]
		if !ok {
			res.Added++
			if i < lastExisting {
				res.Prepended = true
			}
			continue
		}
		if visiblyDiffers(old, msg) {
			res.Edited++
		} else if old.Status != msg.Status {
			res.StatusChanged++
		}
	}
	for _, msg := range current {
		if _, ok := seen[msg.LocalID()]; !ok {
			res.Removed++
		}
	}
	if res.Added == 0 && res.Removed == 0 && !sameOrder(current, res.Next) {
		res.Edited++
	}
	res.TotalChanged = in.KnownTotal >= 0 && page.TotalCount != in.KnownTotal

	switch {
	case res.Added > 0:
		res.Change = ChangeAdded
	case res.Removed > 0 || res.Edited > 0 || res.TotalChanged:
		res.Change = ChangeStructural
	case res.StatusChanged > 0:
		res.Change = ChangeStatus
	default:
		res.Change = ChangeNone
	}
}

func visiblyDiffers(a, b types.Message) bool {
	aServer, _ := a.ServerID()
	bServer, _ := b.ServerID()
	if aServer != bServer {
		return true
	}
	if a.Direction != b.Direction || !a.CreatedAt.Equal(b.CreatedAt) {
		return true
	}
	if a.Body.Text != b.Body.Text {
		return true
	}
	return mediaURL(a.Body.Media) != mediaURL(b.Body.Media)
}

func mediaURL(media *types.MediaRef) string {
	if media == nil {
		return ""
	}
	return media.URL
}

func sameOrder(a, b []types.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].LocalID() != b[i].LocalID() {
			return false
		}
	}
	return true
}

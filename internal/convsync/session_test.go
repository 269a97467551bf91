package convsync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adamavenir/inbox/internal/reconcile"
	"github.com/adamavenir/inbox/internal/types"
	"github.com/adamavenir/inbox/internal/viewport"
)

func TestNewSessionRequiresAPI(t *testing.T) {
	_, err := NewSession(Options{})
	require.Error(t, err)
}

func TestSendOptimisticConfirmsInPlace(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "hello")
	h.open("c1", 1)

	localID := h.session.SendOptimistic("c1", types.Body{Text: "hi there"})
	msg := h.waitStatus("c1", localID, types.StatusSent)

	serverID, ok := msg.ServerID()
	require.True(t, ok)
	require.NotEmpty(t, serverID)
	require.Equal(t, types.OriginOptimistic, msg.Origin)

	events := h.listener.storeEvents("c1")
	var own *storeEvent
	for i := range events {
		if events[i].change.Reason == viewport.ReasonOwnSend {
			own = &events[i]
			break
		}
	}
	require.NotNil(t, own, "own send must render immediately")
	last := own.messages[len(own.messages)-1]
	require.Equal(t, localID, last.LocalID())
	require.Equal(t, types.StatusPending, last.Status)

	// The poll sees the stored copy; it folds into the same entry.
	h.poll()
	msgs := h.session.Messages("c1")
	require.Len(t, msgs, 2)
	require.Equal(t, localID, msgs[1].LocalID())
	require.Equal(t, types.OriginServer, msgs[1].Origin)
}

func TestOptimisticMessageSurvivesLaggingPoll(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "hello")
	h.open("c1", 1)

	gate := make(chan struct{})
	h.api.mu.Lock()
	h.api.sendGate = gate
	h.api.mu.Unlock()

	localID := h.session.SendOptimistic("c1", types.Body{Text: "pending"})
	h.clock.Advance(2 * time.Second)
	h.poll()
	h.poll()

	require.Contains(t, localIDs(h.session.Messages("c1")), localID)
	close(gate)
	h.waitStatus("c1", localID, types.StatusSent)
}

func TestSendFailureKeepsMessageUntilRetried(t *testing.T) {
	h := startSession(t, nil)
	h.open("c1", 0)
	h.api.mu.Lock()
	h.api.failSends = 1
	h.api.mu.Unlock()

	localID := h.session.SendOptimistic("c1", types.Body{Text: "will fail"})
	h.waitStatus("c1", localID, types.StatusFailed)

	h.clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		h.poll()
	}
	require.Equal(t, []string{localID}, localIDs(h.session.Messages("c1")))

	require.NoError(t, h.session.Retry(localID))
	msg := h.waitStatus("c1", localID, types.StatusSent)
	_, ok := msg.ServerID()
	require.True(t, ok)

	err := h.session.Retry(localID)
	require.True(t, errors.Is(err, ErrNotRetryable))
	require.True(t, errors.Is(h.session.Retry("nope"), ErrUnknownMessage))
}

func TestDiscard(t *testing.T) {
	h := startSession(t, nil)
	h.open("c1", 0)
	h.api.mu.Lock()
	h.api.failSends = 1
	h.api.mu.Unlock()

	failed := h.session.SendOptimistic("c1", types.Body{Text: "nope"})
	h.waitStatus("c1", failed, types.StatusFailed)
	require.NoError(t, h.session.Discard(failed))
	require.Empty(t, h.session.Messages("c1"))

	sent := h.session.SendOptimistic("c1", types.Body{Text: "ok"})
	h.waitStatus("c1", sent, types.StatusSent)
	require.True(t, errors.Is(h.session.Discard(sent), ErrNotDiscardable))
}

func TestSamePollTwiceRendersOnce(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "one")
	h.api.addInbound("c1", "two")
	h.open("c1", 2)
	h.poll()
	before := len(h.listener.storeEvents("c1"))

	h.poll()
	h.poll()
	require.Len(t, h.listener.storeEvents("c1"), before)

	h.api.addInbound("c1", "three")
	h.poll()
	events := h.listener.storeEvents("c1")
	require.Len(t, events, before+1)
	require.Equal(t, reconcile.ChangeAdded, events[len(events)-1].change.Kind)
	require.Equal(t, viewport.ReasonPoll, events[len(events)-1].change.Reason)
}

func TestOpenForcesBottom(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "one")
	h.open("c1", 1)

	events := h.listener.storeEvents("c1")
	require.NotEmpty(t, events)
	for _, ev := range events {
		require.Equal(t, viewport.ReasonOpened, ev.change.Reason)
	}
}

func TestLateResponseForPreviousConversationIsDiscarded(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "for c1")
	h.api.addInbound("c2", "for c2")

	gate := make(chan struct{})
	h.api.mu.Lock()
	h.api.fetchGate["c1"] = gate
	h.api.mu.Unlock()

	h.session.Open("c1")
	h.open("c2", 1)
	close(gate)

	require.Eventually(t, func() bool {
		_, calls := h.api.calls()
		return calls >= 2
	}, 2*time.Second, 2*time.Millisecond)
	h.poll()

	require.Empty(t, h.session.Messages("c1"))
	require.Equal(t, "c2", h.session.Active())
	require.Len(t, h.session.Messages("c2"), 1)
}

func TestFirstLoadDoesNotNotify(t *testing.T) {
	notifier := &countingNotifier{}
	h := startSession(t, func(o *Options, api *fakeAPI) {
		api.setConversations(types.Conversation{ID: "x", UnreadCount: 3})
		o.Notifier = notifier
	})
	require.Empty(t, h.listener.notified())

	h.api.setConversations(types.Conversation{ID: "x", UnreadCount: 5})
	h.poll()
	require.Len(t, h.listener.notified(), 1)
	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 2*time.Millisecond)

	h.poll()
	require.Len(t, h.listener.notified(), 1)
	require.Len(t, h.session.Conversations(), 1)
}

func TestOpenConversationDoesNotNotify(t *testing.T) {
	h := startSession(t, nil)
	h.api.setConversations(types.Conversation{ID: "x", UnreadCount: 0})
	h.poll()
	h.api.addInbound("x", "hi")
	h.open("x", 1)

	h.api.setConversations(types.Conversation{ID: "x", UnreadCount: 1})
	h.poll()
	require.Empty(t, h.listener.notified())
}

func TestEvictionUsesCache(t *testing.T) {
	cache := newMemoryCache()
	h := startSession(t, func(o *Options, _ *fakeAPI) { o.Cache = cache })
	h.api.addInbound("c1", "one")
	h.api.addInbound("c2", "two")
	h.open("c1", 1)
	h.open("c2", 1)

	cached, ok, err := cache.Load("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 1)
	require.Empty(t, h.session.Messages("c1"))

	// Reopening paints the cached snapshot before the fetch lands.
	gate := make(chan struct{})
	h.api.mu.Lock()
	h.api.fetchGate["c1"] = gate
	h.api.mu.Unlock()
	h.session.Open("c1")
	require.Eventually(t, func() bool { return len(h.session.Messages("c1")) == 1 }, time.Second, 2*time.Millisecond)
	close(gate)
}

func TestSendCompletionUpdatesCachedConversation(t *testing.T) {
	cache := newMemoryCache()
	h := startSession(t, func(o *Options, _ *fakeAPI) { o.Cache = cache })
	h.api.addInbound("c1", "one")
	h.api.addInbound("c2", "two")
	h.open("c1", 1)

	gate := make(chan struct{})
	h.api.mu.Lock()
	h.api.sendGate = gate
	h.api.mu.Unlock()
	localID := h.session.SendOptimistic("c1", types.Body{Text: "later"})
	h.open("c2", 1)
	close(gate)

	require.Eventually(t, func() bool {
		cached, _, _ := cache.Load("c1")
		for _, msg := range cached {
			if msg.LocalID() == localID && msg.Status == types.StatusSent {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
}

func TestRunSavesOpenConversationOnExit(t *testing.T) {
	cache := newMemoryCache()
	h := startSession(t, func(o *Options, _ *fakeAPI) { o.Cache = cache })
	h.api.addInbound("c1", "one")
	h.open("c1", 1)

	h.api.mu.Lock()
	h.api.sendGate = make(chan struct{})
	h.api.mu.Unlock()
	localID := h.session.SendOptimistic("c1", types.Body{Text: "cut off"})
	h.waitStatus("c1", localID, types.StatusPending)

	require.NoError(t, h.stop())

	cached, ok, err := cache.Load("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 2)
	require.Equal(t, localID, cached[1].LocalID())
	require.Equal(t, types.StatusFailed, cached[1].Status)
}

func TestWithoutCacheUnsentConversationsStayInMemory(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "one")
	h.api.addInbound("c2", "two")
	h.api.addInbound("c3", "three")
	h.api.mu.Lock()
	h.api.failSends = 1
	h.api.mu.Unlock()

	h.open("c1", 1)
	localID := h.session.SendOptimistic("c1", types.Body{Text: "not delivered"})
	h.waitStatus("c1", localID, types.StatusFailed)

	h.open("c2", 1)
	require.Len(t, h.session.Messages("c1"), 2)

	h.open("c3", 1)
	require.Empty(t, h.session.Messages("c2"))

	h.open("c1", 2)
	msgs := h.session.Messages("c1")
	require.Equal(t, localID, msgs[1].LocalID())
	require.Equal(t, types.StatusFailed, msgs[1].Status)
}

func TestLoadOlderPrependsHistory(t *testing.T) {
	h := startSession(t, func(o *Options, _ *fakeAPI) { o.PageSize = 2 })
	for i := 0; i < 5; i++ {
		h.api.addInbound("c1", fmt.Sprintf("m%d", i))
		h.clock.Advance(time.Second)
	}
	h.open("c1", 2)

	added, err := h.session.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, added)
	events := h.listener.storeEvents("c1")
	last := events[len(events)-1]
	require.Equal(t, viewport.ReasonHistory, last.change.Reason)
	require.True(t, last.change.Prepended)
	require.Equal(t, []string{"S2", "S3", "S4", "S5"}, localIDs(h.session.Messages("c1")))

	// A regular poll keeps the loaded history.
	h.poll()
	require.Len(t, h.session.Messages("c1"), 4)

	h.session.Close()
	_, err = h.session.LoadOlder(context.Background())
	require.True(t, errors.Is(err, ErrNoConversation))
}

func TestPollFailuresAreSwallowed(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "one")
	h.open("c1", 1)

	h.api.mu.Lock()
	h.api.failFetches = true
	h.api.mu.Unlock()
	for i := 0; i < 4; i++ {
		h.poll()
	}
	require.Len(t, h.session.Messages("c1"), 1)
	require.Equal(t, 4, pollFailures(h))

	h.api.mu.Lock()
	h.api.failFetches = false
	h.api.mu.Unlock()
	h.poll()
	require.Zero(t, pollFailures(h))
}

func pollFailures(h *harness) int {
	var n int
	_ = h.session.do(func() { n = h.session.poller.Failures() })
	return n
}

func TestResetClearsState(t *testing.T) {
	h := startSession(t, nil)
	h.api.setConversations(types.Conversation{ID: "c1"})
	h.api.addInbound("c1", "one")
	h.poll()
	h.open("c1", 1)

	require.NoError(t, h.session.Reset())
	require.Empty(t, h.session.Messages("c1"))
	require.Empty(t, h.session.Conversations())
	require.Empty(t, h.session.Active())
}

// TestInterleavedSendsAndPollsLoseNothing mixes sends, failures and polls
// and checks that every send ends up sent with a server id or failed.
func TestInterleavedSendsAndPollsLoseNothing(t *testing.T) {
	h := startSession(t, nil)
	h.api.addInbound("c1", "start")
	h.open("c1", 1)

	rng := rand.New(rand.NewSource(7))
	var sent []string
	for step := 0; step < 30; step++ {
		h.clock.Advance(time.Duration(rng.Intn(5000)) * time.Millisecond)
		switch rng.Intn(4) {
		case 0:
			h.api.mu.Lock()
			h.api.failSends = rng.Intn(2)
			h.api.omitRef = rng.Intn(3) == 0
			h.api.mu.Unlock()
			sent = append(sent, h.session.SendOptimistic("c1", types.Body{Text: fmt.Sprintf("out %d", step)}))
		case 1:
			h.api.addInbound("c1", fmt.Sprintf("in %d", step))
		default:
			h.poll()
		}
	}

	require.Eventually(t, func() bool {
		for _, msg := range h.session.Messages("c1") {
			if msg.Status == types.StatusPending {
				return false
			}
		}
		return true
	}, 2*time.Second, 2*time.Millisecond)
	h.poll()

	msgs := h.session.Messages("c1")
	byLocal := map[string]types.Message{}
	seenServer := map[string]bool{}
	for i, msg := range msgs {
		byLocal[msg.LocalID()] = msg
		if serverID, ok := msg.ServerID(); ok {
			require.False(t, seenServer[serverID], "duplicate %s", serverID)
			seenServer[serverID] = true
		}
		if i > 0 {
			require.False(t, msg.CreatedAt.Before(msgs[i-1].CreatedAt), "unsorted at %d", i)
		}
	}
	for _, localID := range sent {
		msg, ok := byLocal[localID]
		require.True(t, ok, "lost %s", localID)
		if msg.Status == types.StatusFailed {
			continue
		}
		_, confirmed := msg.ServerID()
		require.True(t, confirmed, "%s neither failed nor confirmed", localID)
	}
}

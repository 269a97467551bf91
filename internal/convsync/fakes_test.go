package convsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adamavenir/inbox/internal/types"
)

var errOffline = errors.New("offline")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAPI is an in-memory server. Sends are stored and show up in later
// fetches with the client ref echoed.
type fakeAPI struct {
	clock *fakeClock

	mu            sync.Mutex
	conversations []types.Conversation
	messages      map[string][]types.RemoteMessage
	nextID        int
	failSends     int
	failFetches   bool
	omitRef       bool
	fetchGate     map[string]chan struct{}
	sendGate      chan struct{}
	convCalls     int
	messageCalls  int
}

func newFakeAPI(clock *fakeClock) *fakeAPI {
	return &fakeAPI{clock: clock, messages: map[string][]types.RemoteMessage{}, fetchGate: map[string]chan struct{}{}}
}

func (a *fakeAPI) setConversations(convs ...types.Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations = convs
}

func (a *fakeAPI) addInbound(conversationID, text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("S%d", a.nextID)
	a.messages[conversationID] = append(a.messages[conversationID], types.RemoteMessage{
		ID:             id,
		ConversationID: conversationID,
		Direction:      types.DirectionInbound,
		Text:           text,
		CreatedAt:      a.clock.Now(),
		Status:         types.StatusDelivered,
	})
	return id
}

func (a *fakeAPI) calls() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convCalls, a.messageCalls
}

func (a *fakeAPI) FetchConversations(ctx context.Context) ([]types.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convCalls++
	if a.failFetches {
		return nil, errOffline
	}
	return append([]types.Conversation(nil), a.conversations...), nil
}

func (a *fakeAPI) FetchMessages(ctx context.Context, conversationID string, limit int, beforeID string) (types.MessagePage, error) {
	a.mu.Lock()
	gate := a.fetchGate[conversationID]
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.MessagePage{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageCalls++
	if a.failFetches {
		return types.MessagePage{}, errOffline
	}
	all := a.messages[conversationID]
	end := len(all)
	if beforeID != "" {
		for i, msg := range all {
			if msg.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := 0
	if limit > 0 && end-limit > start {
		start = end - limit
	}
	page := append([]types.RemoteMessage(nil), all[start:end]...)
	return types.MessagePage{Messages: page, TotalCount: len(all)}, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, conversationID string, body types.Body, clientRef string) (types.RemoteMessage, error) {
	a.mu.Lock()
	gate := a.sendGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.RemoteMessage{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSends > 0 {
		a.failSends--
		return types.RemoteMessage{}, errOffline
	}
	a.nextID++
	msg := types.RemoteMessage{
		ID:             fmt.Sprintf("S%d", a.nextID),
		ConversationID: conversationID,
		Direction:      types.DirectionOutbound,
		Text:           body.Text,
		Media:          body.Media,
		CreatedAt:      a.clock.Now().Add(time.Millisecond),
		Status:         types.StatusSent,
	}
	if !a.omitRef {
		msg.ClientRef = clientRef
	}
	a.messages[conversationID] = append(a.messages[conversationID], msg)
	return msg, nil
}

type storeEvent struct {
	conversationID string
	messages       []types.Message
	change         Change
}

type recordingListener struct {
	mu            sync.Mutex
	events        []storeEvent
	notifications []types.Conversation
	lists         [][]types.Conversation
}

func (l *recordingListener) OnStoreChanged(conversationID string, messages []types.Message, change Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, storeEvent{conversationID: conversationID, messages: messages, change: change})
}

func (l *recordingListener) OnNewMessageNotification(conv types.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifications = append(l.notifications, conv)
}

func (l *recordingListener) OnConversationsChanged(convs []types.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists = append(l.lists, convs)
}

func (l *recordingListener) storeEvents(conversationID string) []storeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []storeEvent
	for _, ev := range l.events {
		if ev.conversationID == conversationID {
			out = append(out, ev)
		}
	}
	return out
}

func (l *recordingListener) notified() []types.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Conversation(nil), l.notifications...)
}

type memoryCache struct {
	mu        sync.Mutex
	snapshots map[string][]types.Message
}

func newMemoryCache() *memoryCache {
	return &memoryCache{snapshots: map[string][]types.Message{}}
}

func (c *memoryCache) Load(conversationID string) ([]types.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.snapshots[conversationID]
	return append([]types.Message(nil), msgs...), ok, nil
}

func (c *memoryCache) Save(conversationID string, messages []types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[conversationID] = append([]types.Message(nil), messages...)
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	convs []string
}

func (n *countingNotifier) Notify(conv types.Conversation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.convs = append(n.convs, conv.ID)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.convs)
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	api      *fakeAPI
	listener *recordingListener
	session  *Session
	// stop cancels Run and returns its error. Safe to call more than once.
	stop func() error
}

// startSession runs a session whose scheduler only fires the initial tick,
// and waits for that first cycle to land.
func startSession(t *testing.T, configure func(*Options, *fakeAPI)) *harness {
	t.Helper()
	clock := newFakeClock()
	api := newFakeAPI(clock)
	listener := &recordingListener{}
	opts := Options{
		API:          api,
		Listener:     listener,
		Logger:       zerolog.Nop(),
		PollInterval: time.Hour,
		Now:          clock.Now,
	}
	if configure != nil {
		configure(&opts, api)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	var (
		stopOnce sync.Once
		runErr   error
	)
	stop := func() error {
		stopOnce.Do(func() {
			cancel()
			runErr = <-done
		})
		return runErr
	}
	t.Cleanup(func() {
		require.NoError(t, stop())
	})

	h := &harness{t: t, clock: clock, api: api, listener: listener, session: s, stop: stop}
	h.waitCycle(1)
	return h
}

// waitCycle waits until n list fetches happened and the poller is idle.
func (h *harness) waitCycle(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		convCalls, _ := h.api.calls()
		if convCalls < n {
			return false
		}
		idle := false
		_ = h.session.do(func() { idle = h.session.poller.State() == PollIdle })
		return idle
	}, 2*time.Second, 2*time.Millisecond)
}

// poll runs one full cycle.
func (h *harness) poll() {
	h.t.Helper()
	convCalls, _ := h.api.calls()
	h.session.PollNow()
	h.waitCycle(convCalls + 1)
}

func (h *harness) open(conversationID string, wantMessages int) {
	h.t.Helper()
	_, before := h.api.calls()
	h.session.Open(conversationID)
	require.Eventually(h.t, func() bool {
		_, after := h.api.calls()
		return after > before && len(h.session.Messages(conversationID)) >= wantMessages
	}, 2*time.Second, 2*time.Millisecond)
}

func (h *harness) waitStatus(conversationID, localID string, want types.MessageStatus) types.Message {
	h.t.Helper()
	var found types.Message
	require.Eventually(h.t, func() bool {
		for _, msg := range h.session.Messages(conversationID) {
			if msg.LocalID() == localID && msg.Status == want {
				found = msg
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return found
}

func localIDs(msgs []types.Message) []string {
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.LocalID()
	}
	return ids
}

// Package convsync keeps the client-held view of conversations consistent
// with a polled server while the operator sends messages optimistically.
//
// A Session owns all mutable state and mutates it from a single loop
// goroutine started by Run. Network calls run on their own goroutines and
// post their results back to the loop, so a poll result and a send
// completion can never interleave inside a merge.
package convsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/metrics"
	"github.com/adamavenir/inbox/internal/reconcile"
	"github.com/adamavenir/inbox/internal/store"
	"github.com/adamavenir/inbox/internal/types"
	"github.com/adamavenir/inbox/internal/viewport"
)

// API is the hosted messaging backend.
type API interface {
	FetchMessages(ctx context.Context, conversationID string, limit int, beforeID string) (types.MessagePage, error)
	FetchConversations(ctx context.Context) ([]types.Conversation, error)
	SendMessage(ctx context.Context, conversationID string, body types.Body, clientRef string) (types.RemoteMessage, error)
}

// Change describes one store change delivered to the listener.
type Change struct {
	Kind reconcile.ChangeKind
	// Reason tells the rendering layer how to treat the scroll position.
	Reason    viewport.Reason
	Added     int
	Prepended bool
}

// Listener receives session events on the loop goroutine. Implementations
// must return quickly and must not call blocking Session methods.
type Listener interface {
	OnStoreChanged(conversationID string, messages []types.Message, change Change)
	OnNewMessageNotification(conv types.Conversation)
	OnConversationsChanged(convs []types.Conversation)
}

// Notifier delivers new-message notifications outside the process.
type Notifier interface {
	Notify(conv types.Conversation) error
}

// SnapshotCache keeps snapshots of conversations the operator navigated away
// from.
type SnapshotCache interface {
	Load(conversationID string) ([]types.Message, bool, error)
	Save(conversationID string, messages []types.Message) error
}

// Options configures a Session. Zero durations take the config defaults.
type Options struct {
	API      API
	Listener Listener
	Notifier Notifier
	Cache    SnapshotCache
	Metrics  *metrics.Engine
	Logger   zerolog.Logger

	PollInterval     time.Duration
	PageSize         int
	ProtectionWindow time.Duration
	CycleTimeout     time.Duration
	SendTimeout      time.Duration

	Now func() time.Time
}

// OptionsFromConfig copies the [sync] section into Options.
func OptionsFromConfig(cfg core.Config) Options {
	return Options{
		PollInterval:     cfg.Sync.PollInterval.Duration,
		PageSize:         cfg.Sync.PageSize,
		ProtectionWindow: cfg.Sync.ProtectionWindow.Duration,
		CycleTimeout:     cfg.Sync.CycleTimeout.Duration,
		SendTimeout:      cfg.Sync.SendTimeout.Duration,
	}
}

func (o *Options) applyDefaults() {
	defaults := core.DefaultConfig().Sync
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval.Duration
	}
	if o.PageSize <= 0 {
		o.PageSize = defaults.PageSize
	}
	if o.ProtectionWindow <= 0 {
		o.ProtectionWindow = defaults.ProtectionWindow.Duration
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = defaults.CycleTimeout.Duration
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaults.SendTimeout.Duration
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Listener == nil {
		o.Listener = nopListener{}
	}
}

// Session wires the store, writer, poller and list synchronizer together.
type Session struct {
	opts     Options
	api      API
	log      zerolog.Logger
	listener Listener

	// loop-owned state
	sc            *SyncContext
	store         *store.MessageStore
	writer        *Writer
	poller        *Poller
	list          *ListSynchronizer
	knownTotal    map[string]int
	conversations []types.Conversation
	openPending   bool
	runCtx        context.Context

	sched *Scheduler

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewSession builds a session. Call Run to start it; methods that return a
// value wait for the loop.
func NewSession(opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("convsync: API is required")
	}
	opts.applyDefaults()
	log := opts.Logger.With().Str("component", "session").Logger()
	sc := NewSyncContext()
	s := &Session{
		opts:       opts,
		api:        opts.API,
		log:        log,
		listener:   opts.Listener,
		sc:         sc,
		store:      store.New(),
		writer:     NewWriter(sc, opts.Now),
		list:       NewListSynchronizer(),
		knownTotal: map[string]int{},
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	pollLog := opts.Logger.With().Str("component", "poller").Logger()
	s.poller = NewPoller(opts.API, sc, opts.PageSize, opts.CycleTimeout, pollLog, opts.Metrics, opts.Now)
	s.sched = NewScheduler(opts.PollInterval, func() { s.post(s.tick) })
	return s, nil
}

// Run starts the loop and the poll scheduler and blocks until ctx is done.
// On the way out the conversations still in memory are written to the cache.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runCtx = ctx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(gctx)
	})
	g.Go(func() error {
		return s.sched.Run(gctx)
	})
	err := g.Wait()
	cancel()
	s.wg.Wait()
	s.saveOnExit()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) loop(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.runSafe(fn)
		}
	}
}

func (s *Session) runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Recovered panic in session loop")
		}
	}()
	fn()
}

// post queues fn for the loop. It never blocks, so it is safe from listener
// callbacks and network goroutines alike.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	s.post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionStopped
	}
}

// spawn runs fn off-loop and tracks it so Run can wait for it.
func (s *Session) spawn(fn func(ctx context.Context)) {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

// Open makes conversationID the active conversation. The previously open one
// is evicted to the snapshot cache.
func (s *Session) Open(conversationID string) {
	s.post(func() { s.open(conversationID) })
}

// Close evicts the open conversation and stops polling its messages.
func (s *Session) Close() {
	s.post(s.closeActive)
}

// SendOptimistic inserts a pending message and sends it in the background.
// It returns the message's local id immediately.
func (s *Session) SendOptimistic(conversationID string, body types.Body) string {
	localID := core.NewLocalID()
	s.post(func() { s.submit(conversationID, localID, body) })
	return localID
}

// Retry re-sends a failed message under the same local id.
func (s *Session) Retry(localID string) error {
	var result error
	if err := s.do(func() { result = s.retry(localID) }); err != nil {
		return err
	}
	return result
}

// Discard removes a failed or pending message at the operator's request.
func (s *Session) Discard(localID string) error {
	var result error
	if err := s.do(func() { result = s.discard(localID) }); err != nil {
		return err
	}
	return result
}

// LoadOlder fetches the page before the oldest loaded message of the open
// conversation and merges it above. It returns how many entries were added.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	var (
		conversationID string
		epoch          uint64
		beforeID       string
	)
	if err := s.do(func() {
		conversationID, epoch = s.sc.Active()
		if conversationID == "" {
			return
		}
		for _, msg := range s.store.Get(conversationID) {
			if serverID, ok := msg.ServerID(); ok {
				beforeID = serverID
				break
			}
		}
	}); err != nil {
		return 0, err
	}
	if conversationID == "" {
		return 0, ErrNoConversation
	}

	page, err := s.api.FetchMessages(ctx, conversationID, s.opts.PageSize, beforeID)
	if err != nil {
		return 0, &FetchError{Op: "fetch older messages", Err: err}
	}

	added := 0
	if err := s.do(func() {
		if !s.sc.Current(conversationID, epoch) {
			s.opts.Metrics.Stale("history")
			return
		}
		added = s.applyPage(conversationID, page, true)
	}); err != nil {
		return 0, err
	}
	return added, nil
}

// SetMediaSending pauses polling while a media upload is in progress.
func (s *Session) SetMediaSending(on bool) {
	s.sc.SetMediaSending(on)
}

// SetPollInterval changes the poll cadence of a running session.
func (s *Session) SetPollInterval(d time.Duration) {
	s.sched.Reset(d)
}

// Messages returns a copy of a conversation's list.
func (s *Session) Messages(conversationID string) []types.Message {
	var msgs []types.Message
	_ = s.do(func() { msgs = s.store.Get(conversationID) })
	return msgs
}

// Conversations returns the last polled conversation list.
func (s *Session) Conversations() []types.Conversation {
	var convs []types.Conversation
	_ = s.do(func() { convs = append([]types.Conversation(nil), s.conversations...) })
	return convs
}

// Active returns the open conversation id, empty if none.
func (s *Session) Active() string {
	var id string
	_ = s.do(func() { id, _ = s.sc.Active() })
	return id
}

// PollNow runs a poll cycle without waiting for the next tick.
func (s *Session) PollNow() {
	s.post(s.tick)
}

// Reset drops all state, as on logout. Cached snapshots are kept.
func (s *Session) Reset() error {
	return s.do(func() {
		s.sc.Reset()
		s.store.Reset()
		s.writer.Reset()
		s.poller.Reset()
		s.list.Reset()
		s.knownTotal = map[string]int{}
		s.conversations = nil
		s.openPending = false
		s.listener.OnConversationsChanged(nil)
	})
}

// loop handlers below

func (s *Session) tick() {
	ctx, cycle, ok := s.poller.Begin(s.runCtx)
	if !ok {
		return
	}
	ceiling := time.AfterFunc(s.opts.CycleTimeout, func() {
		s.post(func() { s.poller.Abandon(cycle.Generation) })
	})
	s.spawn(func(context.Context) {
		res := s.poller.Fetch(ctx, cycle)
		ceiling.Stop()
		s.post(func() { s.finishCycle(res) })
	})
}

func (s *Session) finishCycle(res CycleResult) {
	if !s.poller.Finish(res) {
		return
	}
	if res.ConversationsErr == nil {
		s.applyConversations(res.Conversations)
	}
	if res.ConversationID == "" || res.PageErr != nil {
		return
	}
	if !s.sc.Current(res.ConversationID, res.Epoch) {
		s.opts.Metrics.Stale("view_changed")
		s.log.Debug().Str("conversation", res.ConversationID).Msg("Discarding poll result for closed conversation")
		return
	}
	s.applyPage(res.ConversationID, res.Page, false)
}

func (s *Session) applyConversations(list []types.Conversation) {
	openID, _ := s.sc.Active()
	notify := s.list.Observe(list, openID)
	if !equalConversations(s.conversations, list) {
		s.conversations = append([]types.Conversation(nil), list...)
		s.listener.OnConversationsChanged(append([]types.Conversation(nil), list...))
	}
	for _, conv := range notify {
		s.opts.Metrics.Notified()
		s.log.Debug().Str("conversation", conv.ID).Int("unread", conv.UnreadCount).Msg("New message notification")
		s.listener.OnNewMessageNotification(conv)
		if s.opts.Notifier != nil {
			s.spawn(func(context.Context) {
				if err := s.opts.Notifier.Notify(conv); err != nil {
					s.log.Debug().Err(err).Str("conversation", conv.ID).Msg("Desktop notification failed")
				}
			})
		}
	}
}

// applyPage merges a server page into a conversation and emits the change.
// It returns the number of added entries.
func (s *Session) applyPage(conversationID string, page types.MessagePage, history bool) int {
	known, ok := s.knownTotal[conversationID]
	if !ok {
		known = -1
	}
	in := reconcile.Input{
		Now:        s.opts.Now(),
		LastSentAt: s.sc.LastSentAt(),
		Window:     s.opts.ProtectionWindow,
		KnownTotal: known,
	}
	current := s.store.Get(conversationID)
	var res reconcile.Result
	if history {
		res = reconcile.MergeHistory(current, page, in)
	} else {
		res = reconcile.Merge(current, page, in)
	}
	for _, conflict := range res.Conflicts {
		s.log.Warn().Err(conflict).Str("conversation", conversationID).Msg("Identity conflict, trusting server")
	}
	if res.Skipped > 0 {
		s.log.Debug().Int("skipped", res.Skipped).Str("conversation", conversationID).Msg("Skipped malformed messages")
	}
	s.knownTotal[conversationID] = page.TotalCount
	s.store.Replace(conversationID, res.Next)
	s.opts.Metrics.Reconciled(res.Change.String(), res.Skipped)

	reason := viewport.ReasonPoll
	switch {
	case s.openPending:
		reason = viewport.ReasonOpened
	case history || res.Prepended:
		reason = viewport.ReasonHistory
	case res.Change == reconcile.ChangeStatus:
		reason = viewport.ReasonStatusOnly
	}
	s.openPending = false
	if res.Change == reconcile.ChangeNone {
		return 0
	}
	s.emit(conversationID, Change{Kind: res.Change, Reason: reason, Added: res.Added, Prepended: res.Prepended})
	return res.Added
}

func (s *Session) open(conversationID string) {
	s.evictActive()
	epoch := s.sc.Open(conversationID)
	delete(s.knownTotal, conversationID)

	if !s.store.Has(conversationID) && s.opts.Cache != nil {
		cached, ok, err := s.opts.Cache.Load(conversationID)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("Failed to load cached snapshot")
		} else if ok {
			s.store.Replace(conversationID, cached)
		}
	}
	s.emit(conversationID, Change{Kind: reconcile.ChangeStructural, Reason: viewport.ReasonOpened})
	s.openPending = true

	s.spawn(func(ctx context.Context) {
		page, err := s.api.FetchMessages(ctx, conversationID, s.opts.PageSize, "")
		s.post(func() {
			if !s.sc.Current(conversationID, epoch) {
				s.opts.Metrics.Stale("view_changed")
				return
			}
			if err != nil {
				s.log.Debug().Err(&FetchError{Op: "fetch messages", Err: err}).Str("conversation", conversationID).Msg("Initial fetch failed")
				return
			}
			s.applyPage(conversationID, page, false)
		})
	})
}

func (s *Session) closeActive() {
	s.evictActive()
	s.sc.Close()
	s.openPending = false
}

// evictActive moves the open conversation's snapshot out of memory, into the
// cache when there is one. Without a cache a conversation holding unsent or
// failed entries stays in memory; anything else is refetched on reopen.
func (s *Session) evictActive() {
	conversationID, _ := s.sc.Active()
	if conversationID == "" {
		return
	}
	msgs := s.store.Get(conversationID)
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Save(conversationID, msgs); err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("Failed to cache snapshot, keeping it in memory")
			return
		}
	} else if hasUnconfirmed(msgs) {
		return
	}
	s.store.Evict(conversationID)
	delete(s.knownTotal, conversationID)
}

// saveOnExit writes every conversation still in memory to the cache once the
// loop has stopped. Sends cut off by shutdown are stored as failed so the
// operator can retry them under the same local id.
func (s *Session) saveOnExit() {
	if s.opts.Cache == nil {
		return
	}
	for _, conversationID := range s.store.Conversations() {
		msgs := s.store.Get(conversationID)
		for i, msg := range msgs {
			if !msg.Identity.Confirmed() && msg.Status == types.StatusPending {
				msgs[i] = s.writer.Fail(msg)
			}
		}
		if err := s.opts.Cache.Save(conversationID, msgs); err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("Failed to cache snapshot on exit")
		}
	}
}

func hasUnconfirmed(msgs []types.Message) bool {
	for _, msg := range msgs {
		if !msg.Identity.Confirmed() {
			return true
		}
	}
	return false
}

func (s *Session) submit(conversationID, localID string, body types.Body) {
	msg := s.writer.Submit(conversationID, localID, body)
	s.store.Upsert(conversationID, msg)
	s.reorder(conversationID)
	s.emit(conversationID, Change{Kind: reconcile.ChangeAdded, Reason: viewport.ReasonOwnSend, Added: 1})
	s.send(msg)
}

func (s *Session) send(msg types.Message) {
	conversationID, localID, body := msg.ConversationID, msg.LocalID(), msg.Body
	s.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
		defer cancel()
		remote, err := s.api.SendMessage(ctx, conversationID, body, localID)
		s.post(func() { s.finishSend(conversationID, localID, remote, err) })
	})
}

func (s *Session) finishSend(conversationID, localID string, remote types.RemoteMessage, sendErr error) {
	var failure *SendFailure
	if sendErr != nil {
		failure = &SendFailure{ConversationID: conversationID, LocalID: localID, Err: sendErr}
		s.opts.Metrics.Send("failed")
		s.log.Warn().Err(failure).Msg("Send failed")
	} else {
		s.opts.Metrics.Send("sent")
	}

	if !s.store.Has(conversationID) {
		s.finishCachedSend(conversationID, localID, remote, failure)
		return
	}
	current, ok := s.store.Find(conversationID, localID)
	if !ok {
		s.log.Debug().Str("local_id", localID).Msg("Send completed for discarded message")
		return
	}
	before := len(s.store.Get(conversationID))
	if failure != nil {
		s.store.Upsert(conversationID, s.writer.Fail(current))
	} else {
		s.store.Upsert(conversationID, s.writer.Confirm(current, remote))
	}
	s.reorder(conversationID)

	kind := reconcile.ChangeStatus
	reason := viewport.ReasonStatusOnly
	if len(s.store.Get(conversationID)) != before {
		kind = reconcile.ChangeStructural
		reason = viewport.ReasonPoll
	}
	s.emit(conversationID, Change{Kind: kind, Reason: reason})
}

// finishCachedSend applies a send result to a conversation the operator has
// navigated away from.
func (s *Session) finishCachedSend(conversationID, localID string, remote types.RemoteMessage, failure *SendFailure) {
	if s.opts.Cache == nil {
		return
	}
	cached, ok, err := s.opts.Cache.Load(conversationID)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("Failed to load cached snapshot")
		}
		return
	}
	tmp := store.New()
	tmp.Replace(conversationID, cached)
	current, found := tmp.Find(conversationID, localID)
	if !found {
		return
	}
	if failure != nil {
		tmp.Upsert(conversationID, s.writer.Fail(current))
	} else {
		tmp.Upsert(conversationID, s.writer.Confirm(current, remote))
	}
	msgs := tmp.Get(conversationID)
	reconcile.Order(msgs)
	if err := s.opts.Cache.Save(conversationID, msgs); err != nil {
		s.log.Warn().Err(err).Str("conversation", conversationID).Msg("Failed to cache snapshot")
	}
}

func (s *Session) retry(localID string) error {
	conversationID, msg, ok := s.store.Locate(localID)
	if !ok {
		return fmt.Errorf("retry %s: %w", localID, ErrUnknownMessage)
	}
	next, err := s.writer.Retry(msg)
	if err != nil {
		return fmt.Errorf("retry %s: %w", localID, err)
	}
	s.store.Upsert(conversationID, next)
	s.reorder(conversationID)
	s.emit(conversationID, Change{Kind: reconcile.ChangeStructural, Reason: viewport.ReasonOwnSend})
	s.send(next)
	return nil
}

func (s *Session) discard(localID string) error {
	conversationID, msg, ok := s.store.Locate(localID)
	if !ok {
		return fmt.Errorf("discard %s: %w", localID, ErrUnknownMessage)
	}
	if msg.Identity.Confirmed() {
		return fmt.Errorf("discard %s: %w", localID, ErrNotDiscardable)
	}
	s.store.Remove(conversationID, localID)
	s.emit(conversationID, Change{Kind: reconcile.ChangeStructural, Reason: viewport.ReasonPoll})
	return nil
}

func (s *Session) reorder(conversationID string) {
	msgs := s.store.Get(conversationID)
	reconcile.Order(msgs)
	s.store.Replace(conversationID, msgs)
}

func (s *Session) emit(conversationID string, change Change) {
	s.listener.OnStoreChanged(conversationID, s.store.Get(conversationID), change)
}

func equalConversations(a, b []types.Conversation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Name != y.Name || x.Channel != y.Channel || x.UnreadCount != y.UnreadCount ||
			x.Owner != y.Owner || x.Status != y.Status || !sameTime(x.LastMessageAt, y.LastMessageAt) {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

type nopListener struct{}

func (nopListener) OnStoreChanged(string, []types.Message, Change) {}
func (nopListener) OnNewMessageNotification(types.Conversation)    {}
func (nopListener) OnConversationsChanged([]types.Conversation)    {}

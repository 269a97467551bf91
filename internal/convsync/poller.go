package convsync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamavenir/inbox/internal/metrics"
	"github.com/adamavenir/inbox/internal/types"
)

// PollState is the poller's position in its cycle.
type PollState int

const (
	PollIdle PollState = iota
	PollPolling
)

func (s PollState) String() string {
	if s == PollPolling {
		return "polling"
	}
	return "idle"
}

// consecutive failures before poll errors are logged at warn
const warnAfterFailures = 3

// Cycle is one poll in flight.
type Cycle struct {
	Generation     uint64
	ConversationID string
	Epoch          uint64
	Started        time.Time
}

// CycleResult is what a cycle fetched. Errors are FetchErrors.
type CycleResult struct {
	Cycle
	Conversations    []types.Conversation
	ConversationsErr error
	Page             types.MessagePage
	PageErr          error
	Elapsed          time.Duration
}

// Poller is the Idle/Polling state machine. Its state is owned by the
// session loop; Fetch is the only part that runs elsewhere.
type Poller struct {
	api      API
	sc       *SyncContext
	pageSize int
	ceiling  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Engine
	now      func() time.Time

	state      PollState
	generation uint64
	failures   int
	cancel     context.CancelFunc
}

// NewPoller returns an idle poller.
func NewPoller(api API, sc *SyncContext, pageSize int, ceiling time.Duration, log zerolog.Logger, m *metrics.Engine, now func() time.Time) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{
		api:      api,
		sc:       sc,
		pageSize: pageSize,
		ceiling:  ceiling,
		log:      log,
		metrics:  m,
		now:      now,
	}
}

func (p *Poller) State() PollState {
	return p.state
}

// Begin starts a cycle unless one is already in flight or media is being
// sent. Skipped ticks are dropped, not queued.
func (p *Poller) Begin(parent context.Context) (context.Context, Cycle, bool) {
	if p.state == PollPolling {
		p.metrics.PollSkipped("in_flight")
		p.log.Debug().Uint64("generation", p.generation).Msg("Skipping tick, cycle in flight")
		return nil, Cycle{}, false
	}
	if p.sc.MediaSending() {
		p.metrics.PollSkipped("media")
		p.log.Debug().Msg("Skipping tick, media send in progress")
		return nil, Cycle{}, false
	}
	p.generation++
	p.state = PollPolling
	conversationID, epoch := p.sc.Active()
	ctx, cancel := context.WithTimeout(parent, p.ceiling)
	p.cancel = cancel
	return ctx, Cycle{
		Generation:     p.generation,
		ConversationID: conversationID,
		Epoch:          epoch,
		Started:        p.now(),
	}, true
}

// Fetch performs the network part of a cycle: the conversation list, then
// the open conversation's newest page. Safe to call off-loop.
func (p *Poller) Fetch(ctx context.Context, cycle Cycle) CycleResult {
	res := CycleResult{Cycle: cycle}
	convs, err := p.api.FetchConversations(ctx)
	if err != nil {
		res.ConversationsErr = &FetchError{Op: "fetch conversations", Err: err}
	} else {
		res.Conversations = convs
	}
	if cycle.ConversationID != "" {
		page, err := p.api.FetchMessages(ctx, cycle.ConversationID, p.pageSize, "")
		if err != nil {
			res.PageErr = &FetchError{Op: "fetch messages", Err: err}
		} else {
			res.Page = page
		}
	}
	res.Elapsed = p.now().Sub(cycle.Started)
	return res
}

// Finish returns the poller to Idle. It reports false for results from a
// cycle that was abandoned or superseded; those must be dropped.
func (p *Poller) Finish(res CycleResult) bool {
	if p.state != PollPolling || res.Generation != p.generation {
		p.metrics.Stale("abandoned_cycle")
		p.log.Debug().Uint64("generation", res.Generation).Msg("Dropping result of abandoned cycle")
		return false
	}
	p.state = PollIdle
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	failed := res.ConversationsErr != nil || res.PageErr != nil
	if !failed {
		if p.failures >= warnAfterFailures {
			p.log.Info().Int("failures", p.failures).Msg("Polling recovered")
		}
		p.failures = 0
		p.metrics.PollCycle("ok", res.Elapsed)
		return true
	}

	p.failures++
	p.metrics.PollCycle("error", res.Elapsed)
	event := p.log.Debug()
	if p.failures >= warnAfterFailures {
		event = p.log.Warn()
	}
	if res.ConversationsErr != nil {
		event = event.AnErr("conversations_err", res.ConversationsErr)
	}
	if res.PageErr != nil {
		event = event.AnErr("messages_err", res.PageErr)
	}
	event.Int("failures", p.failures).Dur("elapsed", res.Elapsed).Msg("Poll cycle failed")
	return true
}

// Abandon forces a stuck cycle back to Idle once the ceiling has passed.
// A late result from it no longer matches the generation.
func (p *Poller) Abandon(generation uint64) bool {
	if p.state != PollPolling || generation != p.generation {
		return false
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = PollIdle
	p.generation++
	p.failures++
	p.metrics.PollCycle("abandoned", p.ceiling)
	p.log.Warn().Uint64("generation", generation).Dur("ceiling", p.ceiling).Msg("Abandoned stuck poll cycle")
	return true
}

// Reset abandons any cycle and clears the failure streak.
func (p *Poller) Reset() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = PollIdle
	p.generation++
	p.failures = 0
}

// Failures returns the current consecutive failure count.
func (p *Poller) Failures() int {
	return p.failures
}

// Package viewport decides where the message list should be scrolled after
// its content changes.
package viewport

// DefaultBottomThreshold is how close to the bottom (in content units) still
// counts as "following" the conversation.
const DefaultBottomThreshold = 150

// Metrics is a snapshot of the scroll container.
type Metrics struct {
	ScrollHeight int
	ScrollTop    int
	ClientHeight int
}

// DistanceFromBottom is how far the visible region ends above the content end.
func (m Metrics) DistanceFromBottom() int {
	d := m.ScrollHeight - m.ScrollTop - m.ClientHeight
	if d < 0 {
		return 0
	}
	return d
}

// MaxScrollTop is the largest valid scroll offset.
func (m Metrics) MaxScrollTop() int {
	top := m.ScrollHeight - m.ClientHeight
	if top < 0 {
		return 0
	}
	return top
}

// Surface is the minimum a rendering layer exposes for scroll decisions.
type Surface interface {
	ScrollMetrics() Metrics
	SetScrollTop(top int)
}

// AnchoredSurface can report where individual messages sit in the content,
// which lets the controller pin the first visible message exactly.
type AnchoredSurface interface {
	Surface
	FirstVisible() (localID string, ok bool)
	OffsetOf(localID string) (offset int, ok bool)
}

// Reason says what triggered a render.
type Reason int

const (
	// ReasonPoll is a background merge.
	ReasonPoll Reason = iota
	// ReasonStatusOnly is a merge that only moved delivery statuses.
	ReasonStatusOnly
	// ReasonOwnSend is the operator's own optimistic insert.
	ReasonOwnSend
	// ReasonOpened is a conversation switch; always lands at the bottom.
	ReasonOpened
	// ReasonHistory is content inserted above what the reader is looking at,
	// either loaded history or a late message that sorts before existing ones.
	ReasonHistory
)

func (r Reason) String() string {
	switch r {
	case ReasonPoll:
		return "poll"
	case ReasonStatusOnly:
		return "status"
	case ReasonOwnSend:
		return "own_send"
	case ReasonOpened:
		return "opened"
	case ReasonHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Anchor is the scroll state captured before a mutation.
type Anchor struct {
	Metrics     Metrics
	WasAtBottom bool
	LocalID     string
	Offset      int
	hasOffset   bool
}

// Controller applies the follow-or-hold policy to a Surface.
type Controller struct {
	surface   Surface
	threshold int
}

// New returns a controller. A non-positive threshold uses the default.
func New(surface Surface, threshold int) *Controller {
	if threshold <= 0 {
		threshold = DefaultBottomThreshold
	}
	return &Controller{surface: surface, threshold: threshold}
}

// Threshold returns the bottom distance that counts as following.
func (c *Controller) Threshold() int {
	return c.threshold
}

// Capture records the scroll state before content changes.
func (c *Controller) Capture() Anchor {
	metrics := c.surface.ScrollMetrics()
	anchor := Anchor{
		Metrics:     metrics,
		WasAtBottom: metrics.DistanceFromBottom() < c.threshold,
	}
	if anchored, ok := c.surface.(AnchoredSurface); ok {
		if localID, ok := anchored.FirstVisible(); ok {
			if offset, ok := anchored.OffsetOf(localID); ok {
				anchor.LocalID = localID
				anchor.Offset = offset
				anchor.hasOffset = true
			}
		}
	}
	return anchor
}

// Decision is what Apply did.
type Decision int

const (
	DecisionFollow Decision = iota
	DecisionHold
)

// Apply repositions the surface after content changed. Own sends, newly
// opened conversations and readers already at the bottom follow the new
// content; everyone else keeps the content they were reading in place.
func (c *Controller) Apply(anchor Anchor, reason Reason) Decision {
	if reason == ReasonOwnSend || reason == ReasonOpened || anchor.WasAtBottom {
		c.surface.SetScrollTop(c.surface.ScrollMetrics().MaxScrollTop())
		return DecisionFollow
	}
	c.hold(anchor, reason)
	return DecisionHold
}

// Reflow re-applies the decision after late content (images) changed the
// layout, using the anchor captured when that content was inserted. Without
// message offsets the whole height change since insertion is taken as growth
// above the reader.
func (c *Controller) Reflow(anchor Anchor) Decision {
	return c.Apply(anchor, ReasonHistory)
}

func (c *Controller) hold(anchor Anchor, reason Reason) {
	after := c.surface.ScrollMetrics()
	top := anchor.Metrics.ScrollTop
	if anchored, ok := c.surface.(AnchoredSurface); ok && anchor.hasOffset {
		if offset, ok := anchored.OffsetOf(anchor.LocalID); ok {
			top += offset - anchor.Offset
			c.surface.SetScrollTop(clamp(top, after.MaxScrollTop()))
			return
		}
	}
	if reason == ReasonHistory {
		top += after.ScrollHeight - anchor.Metrics.ScrollHeight
	}
	c.surface.SetScrollTop(clamp(top, after.MaxScrollTop()))
}

func clamp(top, max int) int {
	if top < 0 {
		return 0
	}
	if top > max {
		return max
	}
	return top
}

package convsync

import (
	"sync/atomic"
	"time"
)

// SyncContext is the per-session state shared by the writer and the poller.
// Everything except the media flag is owned by the session loop.
type SyncContext struct {
	lastSentAt time.Time
	activeID   string
	epoch      uint64

	mediaSending atomic.Bool
}

// NewSyncContext returns an empty context.
func NewSyncContext() *SyncContext {
	return &SyncContext{}
}

// MarkSent records the time of the latest local send.
func (c *SyncContext) MarkSent(at time.Time) {
	if at.After(c.lastSentAt) {
		c.lastSentAt = at
	}
}

// LastSentAt returns the latest local send time, zero if none.
func (c *SyncContext) LastSentAt() time.Time {
	return c.lastSentAt
}

// Open makes conversationID the active conversation and returns the new
// epoch. Responses tagged with an older epoch are stale.
func (c *SyncContext) Open(conversationID string) uint64 {
	c.activeID = conversationID
	c.epoch++
	return c.epoch
}

// Close clears the active conversation.
func (c *SyncContext) Close() {
	c.activeID = ""
	c.epoch++
}

// Active returns the open conversation and its epoch.
func (c *SyncContext) Active() (string, uint64) {
	return c.activeID, c.epoch
}

// Current reports whether a response tagged (conversationID, epoch) still
// belongs to the open view.
func (c *SyncContext) Current(conversationID string, epoch uint64) bool {
	return conversationID != "" && conversationID == c.activeID && epoch == c.epoch
}

// SetMediaSending is set by the upload flow while a media send is in progress.
// Safe to call from any goroutine.
func (c *SyncContext) SetMediaSending(on bool) {
	c.mediaSending.Store(on)
}

func (c *SyncContext) MediaSending() bool {
	return c.mediaSending.Load()
}

// Reset forgets everything, as on logout. The epoch keeps counting so
// responses from before the reset stay stale.
func (c *SyncContext) Reset() {
	c.lastSentAt = time.Time{}
	c.activeID = ""
	c.epoch++
	c.mediaSending.Store(false)
}

package convsync

import (
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

// Writer builds optimistic messages and folds send results into them.
// It does no I/O; the session performs the send.
type Writer struct {
	sc  *SyncContext
	now func() time.Time
	seq uint64
}

// NewWriter returns a writer that stamps messages with now.
func NewWriter(sc *SyncContext, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{sc: sc, now: now}
}

// Submit creates the provisional message for a send and records the send
// time for the protection window.
func (w *Writer) Submit(conversationID, localID string, body types.Body) types.Message {
	at := w.now()
	w.seq++
	w.sc.MarkSent(at)
	return types.Message{
		Identity:       types.OptimisticIdentity(localID),
		ConversationID: conversationID,
		Direction:      types.DirectionOutbound,
		Body:           body,
		CreatedAt:      at,
		Status:         types.StatusPending,
		Origin:         types.OriginOptimistic,
		Seq:            w.seq,
	}
}

// Confirm binds the server record to the pending message. The local id and
// send sequence survive, and status never moves backwards. The entry stays
// optimistic until a snapshot carries its server id, so a lagging listing
// cannot drop it.
func (w *Writer) Confirm(pending types.Message, remote types.RemoteMessage) types.Message {
	confirmed := remote.ToMessage(pending.LocalID())
	confirmed.Seq = pending.Seq
	if pending.Origin == types.OriginOptimistic {
		confirmed.Origin = types.OriginOptimistic
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = pending.ConversationID
	}
	if remote.Direction == "" {
		confirmed.Direction = pending.Direction
	}
	if confirmed.Body.IsEmpty() {
		confirmed.Body = pending.Body
	}
	if confirmed.Status.Rank() < types.StatusSent.Rank() {
		confirmed.Status = types.StatusSent
	}
	if pending.Identity.Confirmed() && pending.Status.Rank() > confirmed.Status.Rank() {
		confirmed.Status = pending.Status
	}
	return confirmed
}

// Fail marks the message failed in place.
func (w *Writer) Fail(msg types.Message) types.Message {
	msg.Status = types.StatusFailed
	return msg
}

// Retry turns a failed message back into a pending one at the end of the
// conversation, keeping its local id.
func (w *Writer) Retry(msg types.Message) (types.Message, error) {
	if msg.Status != types.StatusFailed {
		return msg, ErrNotRetryable
	}
	at := w.now()
	w.seq++
	w.sc.MarkSent(at)
	msg.Status = types.StatusPending
	msg.CreatedAt = at
	msg.Seq = w.seq
	return msg, nil
}

// Reset restarts the send sequence.
func (w *Writer) Reset() {
	w.seq = 0
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

const snapshotSchemaVersion = 1

// cachedMessage is the on-disk shape of a snapshot entry.
type cachedMessage struct {
	Identity       types.Identity      `json:"identity"`
	ConversationID string              `json:"conversation_id"`
	Direction      types.Direction     `json:"direction"`
	Body           types.Body          `json:"body"`
	CreatedAt      time.Time           `json:"created_at"`
	Status         types.MessageStatus `json:"status"`
	Origin         types.Origin        `json:"origin"`
	Seq            uint64              `json:"seq,omitempty"`
}

func toCached(msg types.Message) cachedMessage {
	return cachedMessage{
		Identity:       msg.Identity,
		ConversationID: msg.ConversationID,
		Direction:      msg.Direction,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
		Status:         msg.Status,
		Origin:         msg.Origin,
		Seq:            msg.Seq,
	}
}

func (c cachedMessage) toMessage() types.Message {
	return types.Message{
		Identity:       c.Identity,
		ConversationID: c.ConversationID,
		Direction:      c.Direction,
		Body:           c.Body,
		CreatedAt:      c.CreatedAt,
		Status:         c.Status,
		Origin:         c.Origin,
		Seq:            c.Seq,
	}
}

// SnapshotInfo describes one cached conversation.
type SnapshotInfo struct {
	ConversationID string
	MessageCount   int
	// Unconfirmed counts entries the server has not acknowledged.
	Unconfirmed int
	SavedAt     time.Time
}

// SnapshotCache keeps the last N conversation snapshots in sqlite. Optimistic
// and failed entries are stored as-is so they survive navigation, and a
// snapshot holding any of them is never evicted by the LRU trim.
type SnapshotCache struct {
	db  *sql.DB
	max int
	now func() time.Time
}

// NewSnapshotCache wraps an open database. max <= 0 keeps everything.
func NewSnapshotCache(db *sql.DB, max int) *SnapshotCache {
	return &SnapshotCache{db: db, max: max, now: time.Now}
}

// Load returns the cached snapshot for a conversation.
func (c *SnapshotCache) Load(conversationID string) ([]types.Message, bool, error) {
	var (
		raw     string
		version int
	)
	err := c.db.QueryRow(
		`SELECT messages, schema_version FROM inbox_snapshots WHERE conversation_id = ?`,
		conversationID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if version != snapshotSchemaVersion {
		return nil, false, nil
	}

	var records []cachedMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", conversationID, err)
	}
	msgs := make([]types.Message, 0, len(records))
	for _, record := range records {
		msg := record.toMessage()
		if !msg.Identity.Valid() {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, true, nil
}

// Save stores a snapshot and evicts the least recently saved ones beyond max.
// Only fully confirmed snapshots count towards max.
func (c *SnapshotCache) Save(conversationID string, messages []types.Message) error {
	records := make([]cachedMessage, len(messages))
	unconfirmed := 0
	for i, msg := range messages {
		records[i] = toCached(msg)
		if !msg.Identity.Confirmed() {
			unconfirmed++
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO inbox_snapshots (conversation_id, messages, message_count, unconfirmed, saved_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
		  messages = excluded.messages,
		  message_count = excluded.message_count,
		  unconfirmed = excluded.unconfirmed,
		  saved_at = excluded.saved_at,
		  schema_version = excluded.schema_version
	`, conversationID, string(data), len(records), unconfirmed, c.now().UnixMilli(), snapshotSchemaVersion)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if c.max > 0 {
		_, err = tx.Exec(`
			DELETE FROM inbox_snapshots WHERE unconfirmed = 0 AND conversation_id NOT IN (
			  SELECT conversation_id FROM inbox_snapshots WHERE unconfirmed = 0
			  ORDER BY saved_at DESC, conversation_id LIMIT ?
			)
		`, c.max)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Delete drops one snapshot.
func (c *SnapshotCache) Delete(conversationID string) error {
	_, err := c.db.Exec(`DELETE FROM inbox_snapshots WHERE conversation_id = ?`, conversationID)
	return err
}

// List returns cached conversations, most recently saved first.
func (c *SnapshotCache) List() ([]SnapshotInfo, error) {
	rows, err := c.db.Query(`SELECT conversation_id, message_count, unconfirmed, saved_at FROM inbox_snapshots ORDER BY saved_at DESC, conversation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			savedAt int64
		)
		if err := rows.Scan(&info.ConversationID, &info.MessageCount, &info.Unconfirmed, &savedAt); err != nil {
			return nil, err
		}
		info.SavedAt = time.UnixMilli(savedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

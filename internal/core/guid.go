package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewLocalID returns a session-unique id for an optimistic message.
// UUIDv7 ids sort by creation time, which keeps log output readable.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetDisplayPrefixLength returns the short id length for display.
func GetDisplayPrefixLength(messageCount int) int {
	if messageCount < 500 {
		return 4
	}
	if messageCount < 1500 {
		return 5
	}
	return 6
}

// ShortID extracts the shortened id used in the console and logs.
func ShortID(id string, length int) string {
	base := strings.ReplaceAll(id, "-", "")
	if length <= 0 {
		return ""
	}
	if length > len(base) {
		length = len(base)
	}
	return base[len(base)-length:]
}

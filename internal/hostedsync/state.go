package hostedsync

import (
	"path/filepath"
	"time"
)

const stateFileName = "console-state.json"

// State remembers where the operator left the console.
type State struct {
	BaseURL            string `json:"base_url,omitempty"`
	LastConversationID string `json:"last_conversation_id,omitempty"`
	UpdatedAt          int64  `json:"updated_at,omitempty"`
}

func statePath(configDir string) string {
	return filepath.Join(configDir, stateFileName)
}

// LoadState reads or initializes console state.
func LoadState(configDir string) (*State, error) {
	var state State
	ok, err := loadJSON(statePath(configDir), &state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &State{}, nil
	}
	return &state, nil
}

// SaveState writes console state to disk.
func SaveState(configDir string, state *State) error {
	if state == nil {
		return nil
	}
	state.UpdatedAt = time.Now().Unix()
	return storeJSON(statePath(configDir), state, 0o644)
}

package types

import (
	"encoding/json"
	"fmt"
)

// IdentityKind distinguishes provisional messages from server-persisted ones.
type IdentityKind int

const (
	IdentityOptimistic IdentityKind = iota + 1
	IdentityConfirmed
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityOptimistic:
		return "optimistic"
	case IdentityConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Identity is either {optimistic, localID} or {confirmed, localID, serverID}.
// The zero value is invalid.
type Identity struct {
	kind     IdentityKind
	localID  string
	serverID string
}

// OptimisticIdentity returns the identity of a message the server has not seen.
func OptimisticIdentity(localID string) Identity {
	return Identity{kind: IdentityOptimistic, localID: localID}
}

// ConfirmedIdentity returns the identity of a server-persisted message.
func ConfirmedIdentity(localID, serverID string) Identity {
	if localID == "" {
		localID = serverID
	}
	return Identity{kind: IdentityConfirmed, localID: localID, serverID: serverID}
}

func (i Identity) Kind() IdentityKind { return i.kind }

func (i Identity) LocalID() string { return i.localID }

// ServerID returns the server id and whether the identity is confirmed.
func (i Identity) ServerID() (string, bool) {
	if i.kind != IdentityConfirmed {
		return "", false
	}
	return i.serverID, true
}

func (i Identity) Confirmed() bool { return i.kind == IdentityConfirmed }

func (i Identity) Valid() bool {
	switch i.kind {
	case IdentityOptimistic:
		return i.localID != ""
	case IdentityConfirmed:
		return i.localID != "" && i.serverID != ""
	default:
		return false
	}
}

// Confirm binds a server id while keeping the local id.
func (i Identity) Confirm(serverID string) Identity {
	return ConfirmedIdentity(i.localID, serverID)
}

// WithLocalID rebinds the local id, keeping kind and server id.
func (i Identity) WithLocalID(localID string) Identity {
	i.localID = localID
	return i
}

func (i Identity) String() string {
	if i.kind == IdentityConfirmed {
		return fmt.Sprintf("%s/%s", i.localID, i.serverID)
	}
	return i.localID
}

type identityJSON struct {
	Kind     string `json:"kind"`
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`
}

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{Kind: i.kind.String(), LocalID: i.localID, ServerID: i.serverID})
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "optimistic":
		*i = OptimisticIdentity(raw.LocalID)
	case "confirmed":
		*i = ConfirmedIdentity(raw.LocalID, raw.ServerID)
	default:
		return fmt.Errorf("unknown identity kind %q", raw.Kind)
	}
	if !i.Valid() {
		return fmt.Errorf("invalid identity %q", raw.LocalID)
	}
	return nil
}

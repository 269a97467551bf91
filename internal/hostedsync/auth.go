package hostedsync

import (
	"path/filepath"
	"time"
)

const credentialsFileName = "credentials.json"

// Credentials stores the API token saved by `inbox login`.
type Credentials struct {
	URL     string `json:"url"`
	Token   string `json:"token"`
	SavedAt int64  `json:"saved_at,omitempty"`
}

func credentialsPath(configDir string) string {
	return filepath.Join(configDir, credentialsFileName)
}

// LoadCredentials reads saved credentials. It returns nil when none exist.
func LoadCredentials(configDir string) (*Credentials, error) {
	var creds Credentials
	ok, err := loadJSON(credentialsPath(configDir), &creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &creds, nil
}

// SaveCredentials writes credentials with owner-only permissions.
func SaveCredentials(configDir string, creds Credentials) error {
	if creds.SavedAt == 0 {
		creds.SavedAt = time.Now().Unix()
	}
	return storeJSON(credentialsPath(configDir), creds, 0o600)
}

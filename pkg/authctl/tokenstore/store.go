package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	BackendKeychain = "keychain"
	BackendFile     = "file"

	defaultDirName   = "authctl"
	defaultTokenFile = "tokens.json"
)

// ErrNotFound is returned when no token is stored for a profile.
var ErrNotFound = errors.New("no stored token for profile")

// Token is what authctl keeps between logins.
type Token struct {
	RefreshToken string    `json:"refresh_token"`
	Server       string    `json:"server,omitempty"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
}

type Store interface {
	Load(profile string) (Token, error)
	Save(profile string, token Token) error
	Delete(profile string) error
	Backend() string
}

// New returns the store for backend. An empty backend picks the keychain
// when it is usable and falls back to the file at path.
func New(backend, path string) (Store, error) {
	if path == "" {
		path = DefaultTokenPath()
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendKeychain:
		return NewKeyringStore(defaultServiceName), nil
	case BackendFile:
		return NewFileStore(path), nil
	case "":
		ks := NewKeyringStore(defaultServiceName)
		if ks.Available() {
			return ks, nil
		}
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown token storage %q (want %s or %s)", backend, BackendKeychain, BackendFile)
	}
}

func DefaultTokenPath() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".authctl", defaultTokenFile)
}

func profileKey(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}

package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	defaultServiceName = "authctl"
	availabilityUser   = "__authctl_availability__"
)

type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = defaultServiceName
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Backend() string { return BackendKeychain }

// Available reports whether the keychain answers at all. A missing entry
// counts as available.
func (s *KeyringStore) Available() bool {
	_, err := keyring.Get(s.service, availabilityUser)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

func (s *KeyringStore) Load(profile string) (Token, error) {
	secret, err := keyring.Get(s.service, profileKey(profile))
	if errors.Is(err, keyring.ErrNotFound) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("failed to read keychain: %w", err)
	}
	var token Token
	if err := json.Unmarshal([]byte(secret), &token); err != nil {
		return Token{}, fmt.Errorf("failed to parse keychain entry: %w", err)
	}
	return token, nil
}

func (s *KeyringStore) Save(profile string, token Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, profileKey(profile), string(data)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(profile string) error {
	err := keyring.Delete(s.service, profileKey(profile))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete keychain entry: %w", err)
	}
	return nil
}

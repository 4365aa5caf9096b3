package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type tokenFile struct {
	Tokens map[string]Token `json:"tokens"`
}

// FileStore keeps all profiles in one JSON file readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Backend() string { return BackendFile }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(profile string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return Token{}, err
	}
	token, ok := f.Tokens[profileKey(profile)]
	if !ok {
		return Token{}, ErrNotFound
	}
	return token, nil
}

func (s *FileStore) Save(profile string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	f.Tokens[profileKey(profile)] = token
	return s.write(f)
}

func (s *FileStore) Delete(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	key := profileKey(profile)
	if _, ok := f.Tokens[key]; !ok {
		return ErrNotFound
	}
	delete(f.Tokens, key)
	return s.write(f)
}

func (s *FileStore) read() (*tokenFile, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &tokenFile{Tokens: map[string]Token{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var f tokenFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if f.Tokens == nil {
		f.Tokens = map[string]Token{}
	}
	return &f, nil
}

func (s *FileStore) write(f *tokenFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token file: %w", err)
	}
	return os.WriteFile(s.path, content, 0o600)
}

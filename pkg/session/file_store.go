package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore implements TokenStore using a JSON file. The file holds both
// keys so the pair and the principal are always written together.
type FileStore struct {
	path string
}

// Ensure FileStore implements TokenStore at compile time.
var _ TokenStore = (*FileStore)(nil)

type fileDocument map[string]json.RawMessage

// NewFileStore creates a FileStore at path, creating its directory if needed
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// DefaultFileStorePath returns ~/.accesscore/session.json
func DefaultFileStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".accesscore", "session.json"), nil
}

// Save writes the session to the file
func (s *FileStore) Save(ctx context.Context, session *StoredSession) error {
	token, err := json.Marshal(session.Token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	principal, err := json.Marshal(session.Principal)
	if err != nil {
		return fmt.Errorf("failed to marshal principal: %w", err)
	}
	data, err := json.MarshalIndent(fileDocument{TokenKey: token, PrincipalKey: principal}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Replace the file atomically
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads the session from the file
func (s *FileStore) Load(ctx context.Context) (*StoredSession, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	rawToken, ok := doc[TokenKey]
	if !ok {
		return nil, ErrNoSession
	}
	rawPrincipal, ok := doc[PrincipalKey]
	if !ok {
		return nil, ErrNoSession
	}

	var session StoredSession
	if err := json.Unmarshal(rawToken, &session.Token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if err := json.Unmarshal(rawPrincipal, &session.Principal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principal: %w", err)
	}
	return &session, nil
}

// Clear deletes the session file
func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

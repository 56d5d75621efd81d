package session

import (
	"context"
	"sync"
	"time"

	"github.com/hireboard/accesscore/pkg/types"
)

// Fixed storage keys for the persisted session
const (
	TokenKey     = "accesscore:session:token"
	PrincipalKey = "accesscore:session:principal"
)

// StoredSession is the persisted form of a session
type StoredSession struct {
	Token     StoredToken      `json:"token"`
	Principal *types.Principal `json:"principal"`
}

// StoredToken is the persisted token pair
type StoredToken struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt,omitempty"`
}

func (s *StoredSession) complete() bool {
	return s != nil && s.Token.AccessToken != "" && s.Token.RefreshToken != "" && s.Principal != nil
}

// TokenStore persists the session across process restarts.
// Load returns ErrNoSession when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, s *StoredSession) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory
type MemoryStore struct {
	mu      sync.Mutex
	session *StoredSession
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored session
func (s *MemoryStore) Load(ctx context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrNoSession
	}
	c := *s.session
	c.Principal = s.session.Principal.Clone()
	return &c, nil
}

// Save replaces the stored session
func (s *MemoryStore) Save(ctx context.Context, session *StoredSession) error {
	c := *session
	c.Principal = session.Principal.Clone()

	s.mu.Lock()
	s.session = &c
	s.mu.Unlock()
	return nil
}

// Clear removes the stored session
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}

// noopStore persists nothing
type noopStore struct{}

func (noopStore) Load(context.Context) (*StoredSession, error) { return nil, ErrNoSession }
func (noopStore) Save(context.Context, *StoredSession) error   { return nil }
func (noopStore) Clear(context.Context) error                  { return nil }

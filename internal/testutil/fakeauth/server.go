// Package fakeauth is an in-process auth backend for tests. It issues real
// HS256 access tokens, rotates opaque refresh tokens and serves a bearer
// protected resource, with knobs to expire, revoke and hold calls open.
package fakeauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/hireboard/accesscore/pkg/types"
)

// Claims are the access token claims
type Claims struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	LocationID   string `json:"location_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	Pair         int64  `json:"pair"`
	jwt.RegisteredClaims
}

// ResourceResponse is the body served by the protected resource
type ResourceResponse struct {
	PrincipalID string `json:"principalId"`
	Pair        int64  `json:"pair"`
	Method      string `json:"method"`
	Body        string `json:"body,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

type user struct {
	hash      []byte
	principal types.Principal
}

type refreshEntry struct {
	email string
	pair  int64
}

// Server is the fake backend
type Server struct {
	*httptest.Server

	secret []byte

	accessTTL     time.Duration
	sendExpiresIn bool
	sendPrincipal bool
	envelope      bool
	loginDelay    time.Duration

	mu            sync.Mutex
	users         map[string]user
	refresh       map[string]refreshEntry
	pairSeq       int64
	expiredUpTo   int64
	revoked       bool
	rejectAll     bool
	loginStatus   int
	refreshStatus int
	gate          chan struct{}
	presented     []int64

	loginCalls        atomic.Int64
	refreshCalls      atomic.Int64
	logoutCalls       atomic.Int64
	resourceCalls     atomic.Int64
	unauthorizedCalls atomic.Int64
}

// Option configures the server
type Option func(*Server)

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithoutExpiresIn omits expiresIn so clients must read the exp claim
func WithoutExpiresIn() Option {
	return func(s *Server) { s.sendExpiresIn = false }
}

// WithoutPrincipal omits the principal object from login responses
func WithoutPrincipal() Option {
	return func(s *Server) { s.sendPrincipal = false }
}

// WithEnvelope wraps auth responses as {"data": ...}
func WithEnvelope() Option {
	return func(s *Server) { s.envelope = true }
}

// WithLoginDelay delays login responses
func WithLoginDelay(d time.Duration) Option {
	return func(s *Server) { s.loginDelay = d }
}

// New starts a fake backend. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		secret:        []byte("fakeauth-secret-" + uuid.NewString()),
		accessTTL:     15 * time.Minute,
		sendExpiresIn: true,
		sendPrincipal: true,
		users:         make(map[string]user),
		refresh:       make(map[string]refreshEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh-token", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/{resource}", s.handleResource).Methods(http.MethodGet, http.MethodPost, http.MethodPut)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers a user
func (s *Server) AddUser(email, password string, p types.Principal) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("fakeauth: hash password: %v", err))
	}
	s.mu.Lock()
	s.users[strings.ToLower(email)] = user{hash: hash, principal: p}
	s.mu.Unlock()
}

// ExpireAccessTokens invalidates every access token issued so far
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.expiredUpTo = s.pairSeq
	s.mu.Unlock()
}

// RevokeRefreshTokens makes every refresh call fail with 401
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.revoked = true
	s.mu.Unlock()
}

// SetRejectAll makes the resource answer 401 to every request
func (s *Server) SetRejectAll(reject bool) {
	s.mu.Lock()
	s.rejectAll = reject
	s.mu.Unlock()
}

// SetLoginStatus forces login to answer with status (0 restores normal behavior)
func (s *Server) SetLoginStatus(status int) {
	s.mu.Lock()
	s.loginStatus = status
	s.mu.Unlock()
}

// SetRefreshStatus forces refresh to answer with status (0 restores normal behavior)
func (s *Server) SetRefreshStatus(status int) {
	s.mu.Lock()
	s.refreshStatus = status
	s.mu.Unlock()
}

// HoldRefreshes blocks refresh calls until the returned release func is called
func (s *Server) HoldRefreshes() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// LoginCalls returns the number of login calls received
func (s *Server) LoginCalls() int64 { return s.loginCalls.Load() }

// RefreshCalls returns the number of refresh calls received
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// LogoutCalls returns the number of logout calls received
func (s *Server) LogoutCalls() int64 { return s.logoutCalls.Load() }

// ResourceCalls returns the number of resource calls received
func (s *Server) ResourceCalls() int64 { return s.resourceCalls.Load() }

// UnauthorizedCalls returns the number of resource calls answered with 401
func (s *Server) UnauthorizedCalls() int64 { return s.unauthorizedCalls.Load() }

// PresentedPairs returns the pair of every refresh token presented, in order
func (s *Server) PresentedPairs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.presented...)
}

// ActiveRefreshTokens returns the number of refresh tokens still valid
func (s *Server) ActiveRefreshTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refresh)
}

// IssueAccessToken signs an access token outside the login flow
func (s *Server) IssueAccessToken(p types.Principal, expiresAt time.Time) string {
	s.mu.Lock()
	s.pairSeq++
	pair := s.pairSeq
	s.mu.Unlock()

	tok, err := s.sign(p, pair, expiresAt)
	if err != nil {
		panic(fmt.Sprintf("fakeauth: sign token: %v", err))
	}
	return tok
}

func (s *Server) sign(p types.Principal, pair int64, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:         p.DisplayName,
		Email:        p.Email,
		Role:         string(p.Role),
		LocationID:   p.LocationID,
		DepartmentID: p.DepartmentID,
		Pair:         pair,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// issue creates a new pair for email. Callers hold s.mu.
func (s *Server) issue(email string, p types.Principal) (map[string]interface{}, error) {
	s.pairSeq++
	pair := s.pairSeq

	access, err := s.sign(p, pair, time.Now().Add(s.accessTTL))
	if err != nil {
		return nil, err
	}
	refresh := fmt.Sprintf("rt-%d-%s", pair, uuid.NewString())
	s.refresh[refresh] = refreshEntry{email: email, pair: pair}

	body := map[string]interface{}{
		"accessToken":  access,
		"refreshToken": refresh,
	}
	if s.sendExpiresIn {
		body["expiresIn"] = int64(s.accessTTL / time.Second)
	}
	return body, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)
	if s.loginDelay > 0 {
		select {
		case <-time.After(s.loginDelay):
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loginStatus != 0 {
		writeJSON(w, s.loginStatus, map[string]string{"error": "forced"})
		return
	}

	email := strings.ToLower(req.Email)
	u, ok := s.users[email]
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	body, err := s.issue(email, u.principal)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if s.sendPrincipal {
		body["principal"] = u.principal
	}
	s.respond(w, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refresh[req.RefreshToken]
	if ok {
		s.presented = append(s.presented, entry.pair)
	}
	if s.refreshStatus != 0 {
		writeJSON(w, s.refreshStatus, map[string]string{"error": "forced"})
		return
	}
	if s.revoked || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	// Refresh tokens are single use
	delete(s.refresh, req.RefreshToken)
	body, err := s.issue(entry.email, s.users[entry.email].principal)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.respond(w, body)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		s.mu.Lock()
		delete(s.refresh, req.RefreshToken)
		s.mu.Unlock()
	}
	s.respond(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	s.resourceCalls.Add(1)

	claims, err := s.authenticate(r)
	if err != nil {
		s.unauthorizedCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, ResourceResponse{
		PrincipalID: claims.Subject,
		Pair:        claims.Pair,
		Method:      r.Method,
		Body:        string(body),
		RequestID:   r.Header.Get("X-Request-ID"),
	})
}

func (s *Server) authenticate(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectAll {
		return nil, errors.New("rejected")
	}
	if claims.Pair <= s.expiredUpTo {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func (s *Server) respond(w http.ResponseWriter, body interface{}) {
	if s.envelope {
		body = map[string]interface{}{"data": body}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

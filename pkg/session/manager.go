// Package session owns the bearer token pair of a signed-in principal. It
// attaches credentials to outgoing requests and refreshes an expired pair
// with at most one refresh call in flight, however many requests fail at once.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hireboard/accesscore/pkg/audit"
	"github.com/hireboard/accesscore/pkg/metrics"
	"github.com/hireboard/accesscore/pkg/types"
)

// Manager is the session manager. It is safe for concurrent use.
type Manager struct {
	config  Config
	client  *http.Client
	store   TokenStore
	logger  *zap.Logger
	metrics metrics.Metrics
	audit   audit.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu sync.RWMutex
	st *state // never nil; unauthenticated when token is nil

	// storeMu orders writes to the store with the generation they belong to
	storeMu sync.Mutex

	refreshes singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(mc metrics.Metrics) Option {
	return func(m *Manager) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// WithStore sets where the session is persisted
func WithStore(store TokenStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithHTTPClient sets the client used for auth calls and Execute
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithAuditor sets the audit logger
func WithAuditor(logger audit.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.audit = logger
		}
	}
}

// WithClock overrides the clock used for token expiry
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager with no session
func NewManager(config Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	m := &Manager{
		config:  config,
		client:  &http.Client{},
		store:   noopStore{},
		logger:  zap.NewNop(),
		metrics: metrics.NewNoOpMetrics(),
		audit:   audit.NewNoopLogger(),
		now:     time.Now,
		st:      &state{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if config.LoginRatePerMinute > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(float64(config.LoginRatePerMinute)/60), config.LoginBurst)
	}

	return m, nil
}

func (m *Manager) snapshot() *state {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

// CurrentPrincipal returns the signed-in principal, if any
func (m *Manager) CurrentPrincipal() (*types.Principal, bool) {
	st := m.snapshot()
	if !st.authenticated() {
		return nil, false
	}
	return st.principal.Clone(), true
}

// Info returns the current token view. Generation is zero before the first login.
func (m *Manager) Info() TokenInfo {
	return m.snapshot().info()
}

// Login exchanges credentials for a token pair. A failed login leaves the
// current session untouched; a successful one replaces it wholesale.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*types.Principal, error) {
	start := time.Now()

	if m.limiter != nil && !m.limiter.Allow() {
		m.metrics.RecordLogin(metrics.OutcomeRateLimited, time.Since(start))
		m.logger.Warn("Login throttled", zap.String("email", creds.Email))
		return nil, newAuthError("login", ErrRateLimited, 0, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.LoginTimeout)
	defer cancel()

	resp, err := m.exchange(callCtx, m.config.LoginPath, creds)
	if err != nil {
		return nil, m.loginFailed(creds, err, time.Since(start))
	}

	principal := resp.Principal
	if principal == nil {
		p, ok := principalFromClaims(resp.AccessToken)
		if !ok {
			return nil, m.loginFailed(creds, errors.New("login response carries no principal"), time.Since(start))
		}
		principal = p
	}

	tok := newToken(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn, m.now())

	m.mu.Lock()
	next := &state{token: tok, principal: principal.Clone(), generation: m.st.generation + 1}
	m.st = next
	m.mu.Unlock()

	m.persist(ctx, next)

	m.metrics.RecordLogin(metrics.OutcomeSuccess, time.Since(start))
	m.logger.Info("Login succeeded",
		zap.String("principal_id", principal.ID),
		zap.String("role", principal.Role.String()),
		zap.Uint64("generation", next.generation),
	)
	m.record(audit.EventTypeLogin, principal, "", nil)

	return principal.Clone(), nil
}

func (m *Manager) loginFailed(creds Credentials, err error, dur time.Duration) error {
	kind, outcome, status := ErrNetwork, metrics.OutcomeNetworkError, 0

	var callErr *authCallError
	if errors.As(err, &callErr) {
		status = callErr.status
		if callErr.rejected() {
			kind, outcome = ErrInvalidCredentials, metrics.OutcomeInvalidCredentials
		}
	}

	m.metrics.RecordLogin(outcome, dur)
	m.logger.Warn("Login failed",
		zap.String("email", creds.Email),
		zap.String("outcome", outcome),
		zap.Int("status", status),
		zap.Error(err),
	)
	m.record(audit.EventTypeLoginFailed, nil, outcome, map[string]interface{}{"email": creds.Email})

	if kind == ErrInvalidCredentials {
		return newAuthError("login", kind, status, nil)
	}
	return newAuthError("login", kind, status, err)
}

// exchange posts an auth call and decodes the token pair it returns
func (m *Manager) exchange(ctx context.Context, path string, payload interface{}) (*tokenResponse, error) {
	body, err := m.postJSON(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	return decodeTokenResponse(body)
}

// Attach returns a clone of req carrying the current bearer token, or req
// itself when there is no session.
func (m *Manager) Attach(req *http.Request) *http.Request {
	st := m.snapshot()
	if !st.authenticated() {
		return req
	}
	r := req.Clone(req.Context())
	st.token.SetAuthHeader(r)
	return r
}

// Execute sends req with the current credentials. A 401 triggers one
// coordinated refresh and a single retry; a 401 on the retry ends the
// session with ErrSessionExpired.
func (m *Manager) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.Clone(ctx)
	if err := bufferBody(req); err != nil {
		return nil, newAuthError("execute", ErrNetwork, 0, err)
	}
	ensureRequestID(req)

	st := m.snapshot()
	if st.expiredAt(m.now(), m.config.ExpirySkew) {
		m.logger.Debug("Access token expired, refreshing before send",
			zap.Uint64("generation", st.generation))
		fresh, err := m.refreshFrom(ctx, st)
		if err != nil {
			return nil, err
		}
		st = fresh
	}

	resp, err := m.send(req, st)
	if err != nil {
		return nil, newAuthError("execute", ErrNetwork, 0, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	if !st.authenticated() {
		return nil, newAuthError("execute", ErrUnauthorized, http.StatusUnauthorized, nil)
	}

	m.metrics.RecordRetry()
	fresh, err := m.refreshFrom(ctx, st)
	if err != nil {
		return nil, err
	}

	resp, err = m.send(req, fresh)
	if err != nil {
		return nil, newAuthError("execute", ErrNetwork, 0, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	m.logger.Warn("Request rejected after refresh, ending session",
		zap.String("request_id", req.Header.Get(RequestIDHeader)),
		zap.Uint64("generation", fresh.generation),
	)
	if m.logout(ctx, fresh.generation) {
		m.metrics.RecordSessionExpired()
		m.record(audit.EventTypeSessionExpired, fresh.principal, "rejected after refresh", nil)
	}
	return nil, newAuthError("execute", ErrSessionExpired, http.StatusUnauthorized, nil)
}

// send clones req with the credentials of st and a fresh copy of the body
func (m *Manager) send(req *http.Request, st *state) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	if st.authenticated() {
		st.token.SetAuthHeader(r)
	}
	return m.client.Do(r)
}

// bufferBody makes the request body replayable
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(data))
	return nil
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxAuthResponseSize))
	resp.Body.Close()
}

// Logout ends the session. The backend is told on a best-effort basis;
// local and persisted state are cleared regardless. Calling Logout without
// a session is a no-op apart from clearing the store.
func (m *Manager) Logout(ctx context.Context) {
	m.logout(ctx, 0)
}

// logout ends the session if its generation matches (0 matches any) and
// reports whether a session was ended.
func (m *Manager) logout(ctx context.Context, generation uint64) bool {
	m.mu.Lock()
	old := m.st
	ended := old.authenticated() && (generation == 0 || old.generation == generation)
	if ended {
		m.st = &state{generation: old.generation + 1}
	}
	m.mu.Unlock()

	if generation != 0 && !ended {
		return false
	}

	m.clearStore(ctx)
	if !ended {
		return false
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.LogoutTimeout)
	defer cancel()
	if _, err := m.postJSON(callCtx, m.config.LogoutPath, refreshRequest{RefreshToken: old.token.RefreshToken}); err != nil {
		m.logger.Warn("Backend logout failed", zap.Error(err))
	}

	m.metrics.RecordLogout()
	m.logger.Info("Logged out", zap.String("principal_id", old.principal.ID))
	m.record(audit.EventTypeLogout, old.principal, "", nil)
	return true
}

// expire clears the session after a failed refresh if it is still the
// generation that failed.
func (m *Manager) expire(ctx context.Context, generation uint64, cause error) {
	m.mu.Lock()
	old := m.st
	if !old.authenticated() || old.generation != generation {
		m.mu.Unlock()
		return
	}
	m.st = &state{generation: old.generation + 1}
	m.mu.Unlock()

	m.clearStore(ctx)

	m.metrics.RecordSessionExpired()
	m.logger.Warn("Session expired",
		zap.String("principal_id", old.principal.ID),
		zap.Error(cause),
	)
	m.record(audit.EventTypeSessionExpired, old.principal, cause.Error(), nil)
}

// Restore loads a persisted session. It reports false when there is none.
// A session that is already signed in is kept.
func (m *Manager) Restore(ctx context.Context) (*types.Principal, bool, error) {
	if p, ok := m.CurrentPrincipal(); ok {
		return p, true, nil
	}

	stored, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to restore session: %w", err)
	}
	if !stored.complete() || stored.Principal.Validate() != nil {
		m.logger.Warn("Discarding incomplete stored session")
		m.clearStore(ctx)
		return nil, false, nil
	}

	tok := newToken(stored.Token.AccessToken, stored.Token.RefreshToken, 0, m.now())
	if !stored.Token.AccessExpiresAt.IsZero() {
		tok.Expiry = stored.Token.AccessExpiresAt
	}

	m.mu.Lock()
	if m.st.authenticated() {
		cur := m.st
		m.mu.Unlock()
		return cur.principal.Clone(), true, nil
	}
	next := &state{token: tok, principal: stored.Principal.Clone(), generation: m.st.generation + 1}
	m.st = next
	m.mu.Unlock()

	m.logger.Info("Session restored", zap.String("principal_id", next.principal.ID))
	m.record(audit.EventTypeSessionRestore, next.principal, "", nil)
	return next.principal.Clone(), true, nil
}

// persist saves st unless it has already been superseded
func (m *Manager) persist(ctx context.Context, st *state) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	if m.snapshot().generation != st.generation {
		return
	}
	stored := &StoredSession{
		Token: StoredToken{
			AccessToken:     st.token.AccessToken,
			RefreshToken:    st.token.RefreshToken,
			AccessExpiresAt: st.token.Expiry,
		},
		Principal: st.principal.Clone(),
	}
	if err := m.store.Save(context.WithoutCancel(ctx), stored); err != nil {
		m.logger.Warn("Failed to persist session", zap.Error(err))
	}
}

func (m *Manager) clearStore(ctx context.Context) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to clear stored session", zap.Error(err))
	}
}

func (m *Manager) record(eventType audit.EventType, p *types.Principal, reason string, data map[string]interface{}) {
	event := audit.NewEvent(eventType)
	event.Reason = reason
	event.Data = data
	if p != nil {
		event.PrincipalID = p.ID
		event.Role = p.Role.String()
	}
	if err := m.audit.Log(event); err != nil {
		m.logger.Warn("Failed to write audit event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

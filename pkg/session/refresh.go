package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireboard/accesscore/pkg/audit"
	"github.com/hireboard/accesscore/pkg/metrics"
)

// Refresh replaces the token pair, joining a refresh already in flight if
// there is one. It returns ErrUnauthorized without a session and
// ErrSessionExpired when the backend no longer accepts the refresh token.
func (m *Manager) Refresh(ctx context.Context) (TokenInfo, error) {
	st := m.snapshot()
	if !st.authenticated() {
		return TokenInfo{}, newAuthError("refresh", ErrUnauthorized, 0, nil)
	}
	fresh, err := m.refreshFrom(ctx, st)
	if err != nil {
		return TokenInfo{}, err
	}
	return fresh.info(), nil
}

// refreshFrom returns a session newer than stale. Callers holding the same
// stale generation share a single backend call; a caller whose generation
// has already been replaced gets the current session without any call.
func (m *Manager) refreshFrom(ctx context.Context, stale *state) (*state, error) {
	if cur, done, err := m.superseded(stale); done {
		return cur, err
	}

	leader := false
	key := strconv.FormatUint(stale.generation, 10)
	ch := m.refreshes.DoChan(key, func() (interface{}, error) {
		leader = true
		return m.doRefresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		if !leader {
			m.metrics.RecordRefreshJoined()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*state), nil
	case <-ctx.Done():
		return nil, newAuthError("refresh", ErrNetwork, 0, ctx.Err())
	}
}

// superseded reports whether stale has been replaced, and by what
func (m *Manager) superseded(stale *state) (*state, bool, error) {
	cur := m.snapshot()
	if cur.generation == stale.generation {
		return nil, false, nil
	}
	if cur.authenticated() {
		return cur, true, nil
	}
	return nil, true, newAuthError("refresh", ErrSessionExpired, 0, nil)
}

// doRefresh performs the backend call for one generation. It runs on a
// context detached from the caller that started it.
func (m *Manager) doRefresh(ctx context.Context, stale *state) (*state, error) {
	if cur, done, err := m.superseded(stale); done {
		return cur, err
	}

	id := uuid.NewString()
	start := time.Now()
	logger := m.logger.With(
		zap.String("refresh_id", id),
		zap.Uint64("generation", stale.generation),
	)
	logger.Debug("Refreshing token pair")

	callCtx, cancel := context.WithTimeout(ctx, m.config.RefreshTimeout)
	defer cancel()

	resp, err := m.exchange(callCtx, m.config.RefreshPath, refreshRequest{RefreshToken: stale.token.RefreshToken})
	if err != nil {
		outcome, status := metrics.OutcomeNetworkError, 0
		cause := fmt.Errorf("%w: %w", ErrNetwork, err)

		var callErr *authCallError
		if errors.As(err, &callErr) {
			status = callErr.status
			if callErr.rejected() {
				outcome, cause = metrics.OutcomeSessionExpired, err
			}
		}

		m.metrics.RecordRefresh(outcome, time.Since(start))
		logger.Warn("Refresh failed", zap.String("outcome", outcome), zap.Int("status", status), zap.Error(err))
		m.expire(ctx, stale.generation, cause)
		return nil, newAuthError("refresh", ErrSessionExpired, status, cause)
	}

	tok := newToken(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn, m.now())

	m.mu.Lock()
	cur := m.st
	if cur.generation != stale.generation {
		// A login or logout won the race; its state stands
		m.mu.Unlock()
		m.metrics.RecordRefresh(metrics.OutcomeSuccess, time.Since(start))
		logger.Info("Refresh superseded", zap.Uint64("current_generation", cur.generation))
		if cur.authenticated() {
			return cur, nil
		}
		return nil, newAuthError("refresh", ErrSessionExpired, 0, nil)
	}
	next := &state{token: tok, principal: stale.principal, generation: cur.generation + 1}
	m.st = next
	m.mu.Unlock()

	m.persist(ctx, next)

	m.metrics.RecordRefresh(metrics.OutcomeSuccess, time.Since(start))
	logger.Info("Token pair refreshed", zap.Uint64("new_generation", next.generation))
	m.record(audit.EventTypeRefresh, next.principal, "", map[string]interface{}{"refresh_id": id})

	return next, nil
}

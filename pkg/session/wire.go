package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/hireboard/accesscore/pkg/types"
)

const (
	// RequestIDHeader carries a per-call request id
	RequestIDHeader = "X-Request-ID"

	// maxAuthResponseSize bounds auth response bodies
	maxAuthResponseSize = 1 << 20
)

// Credentials are the login inputs
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenResponse is the body of login and refresh responses. Some backends
// wrap the payload as {"data": {...}}; both shapes are accepted.
type tokenResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn,omitempty"`
	Principal    *types.Principal `json:"principal,omitempty"`
	User         *types.Principal `json:"user,omitempty"`
	Data         json.RawMessage  `json:"data,omitempty"`
}

func decodeTokenResponse(body []byte) (*tokenResponse, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.AccessToken == "" && len(resp.Data) > 0 {
		var inner tokenResponse
		if err := json.Unmarshal(resp.Data, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode token response data: %w", err)
		}
		resp = inner
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, errors.New("token response is missing the token pair")
	}
	if resp.Principal == nil {
		resp.Principal = resp.User
	}
	if resp.Principal != nil {
		role, err := types.ParseRoleTag(string(resp.Principal.Role))
		if err != nil {
			return nil, fmt.Errorf("token response principal: %w", err)
		}
		resp.Principal.Role = role
		if err := resp.Principal.Validate(); err != nil {
			return nil, fmt.Errorf("token response principal: %w", err)
		}
	}
	return &resp, nil
}

// authCallError classifies a failed auth call
type authCallError struct {
	status int // zero when no response was received
	err    error
}

func (e *authCallError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("status %d", e.status)
	}
	return e.err.Error()
}

func (e *authCallError) Unwrap() error { return e.err }

// rejected reports whether the backend refused the credentials
func (e *authCallError) rejected() bool {
	switch e.status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// postJSON sends an auth call and returns the response body on 2xx. Any
// other outcome is an *authCallError.
func (m *Manager) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	endpoint, err := m.config.endpoint(path)
	if err != nil {
		return nil, &authCallError{err: err}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &authCallError{err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &authCallError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	ensureRequestID(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &authCallError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponseSize))
	if err != nil {
		return nil, &authCallError{err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &authCallError{status: resp.StatusCode, err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return body, nil
}

func ensureRequestID(req *http.Request) {
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
}

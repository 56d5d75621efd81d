package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireboard/accesscore/pkg/types"
)

func TestDecodeTokenResponse(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   string
		principal *types.Principal
		expiresIn int64
	}{
		{
			name:      "plain",
			body:      `{"accessToken":"a","refreshToken":"r","expiresIn":900}`,
			expiresIn: 900,
		},
		{
			name:      "enveloped with principal",
			body:      `{"data":{"accessToken":"a","refreshToken":"r","principal":{"id":"u-1","displayName":"Ann","role":"ceo"}}}`,
			principal: &types.Principal{ID: "u-1", DisplayName: "Ann", Role: types.RoleCEO},
		},
		{
			name:      "user alias and loose role spelling",
			body:      `{"accessToken":"a","refreshToken":"r","user":{"id":"u-2","role":"MARKETING_HEAD","locationId":"loc-1"}}`,
			principal: &types.Principal{ID: "u-2", Role: types.RoleMarketingHead, LocationID: "loc-1"},
		},
		{
			name:    "missing refresh token",
			body:    `{"accessToken":"a"}`,
			wantErr: "missing the token pair",
		},
		{
			name:    "empty envelope",
			body:    `{"data":{}}`,
			wantErr: "missing the token pair",
		},
		{
			name:    "unknown role",
			body:    `{"accessToken":"a","refreshToken":"r","principal":{"id":"u-1","role":"intern"}}`,
			wantErr: "principal",
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := decodeTokenResponse([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", resp.AccessToken)
			assert.Equal(t, "r", resp.RefreshToken)
			assert.Equal(t, tt.expiresIn, resp.ExpiresIn)
			assert.Equal(t, tt.principal, resp.Principal)
		})
	}
}

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func TestNewToken_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	raw := signTestToken(t, jwt.MapClaims{"sub": "u-1", "exp": exp.Unix()})

	tok := newToken(raw, "r", 60, now)
	assert.Equal(t, now.Add(time.Minute), tok.Expiry, "expiresIn wins over the claim")
	assert.Equal(t, "Bearer", tok.Type())

	tok = newToken(raw, "r", 0, now)
	assert.True(t, exp.Equal(tok.Expiry))

	tok = newToken("opaque-token", "r", 0, now)
	assert.True(t, tok.Expiry.IsZero())

	st := &state{token: tok, generation: 1}
	assert.False(t, st.expiredAt(now.Add(24*time.Hour), 0), "unknown expiry never counts as expired")
}

func TestState_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &state{token: newToken("opaque", "r", 60, now), generation: 1}

	assert.False(t, st.expiredAt(now, 10*time.Second))
	assert.True(t, st.expiredAt(now.Add(50*time.Second), 10*time.Second))
	assert.True(t, st.expiredAt(now.Add(time.Minute), 0))
	assert.False(t, (&state{}).expiredAt(now, 0))
}

func TestPrincipalFromClaims(t *testing.T) {
	raw := signTestToken(t, jwt.MapClaims{
		"sub":           "u-9",
		"name":          "Mo Recruiter",
		"email":         "mo@example.com",
		"role":          "marketing-recruiter",
		"location_id":   "loc-3",
		"department_id": "dep-2",
	})
	p, ok := principalFromClaims(raw)
	require.True(t, ok)
	assert.Equal(t, types.Principal{
		ID:           "u-9",
		DisplayName:  "Mo Recruiter",
		Email:        "mo@example.com",
		Role:         types.RoleMarketingRecruiter,
		LocationID:   "loc-3",
		DepartmentID: "dep-2",
	}, *p)

	_, ok = principalFromClaims(signTestToken(t, jwt.MapClaims{"sub": "u-9", "role": "intern"}))
	assert.False(t, ok)
	_, ok = principalFromClaims(signTestToken(t, jwt.MapClaims{"role": "ceo"}))
	assert.False(t, ok, "subject is required")
	_, ok = principalFromClaims("not-a-jwt")
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing base URL", mutate: func(c *Config) { c.BaseURL = "" }, wantErr: true},
		{name: "bad scheme", mutate: func(c *Config) { c.BaseURL = "ftp://example.com" }, wantErr: true},
		{name: "negative skew", mutate: func(c *Config) { c.ExpirySkew = -time.Second }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.LoginRatePerMinute = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.BaseURL = "https://api.example.com"
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	c := Config{BaseURL: "https://api.example.com/v1", LoginRatePerMinute: 10}
	require.NoError(t, c.Validate())

	def := DefaultConfig()
	assert.Equal(t, def.LoginPath, c.LoginPath)
	assert.Equal(t, def.RefreshTimeout, c.RefreshTimeout)
	assert.Equal(t, def.LoginBurst, c.LoginBurst)

	endpoint, err := c.endpoint(c.RefreshPath)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/auth/refresh-token", endpoint)
}

package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/hireboard/accesscore/pkg/types"
)

// TokenInfo is the caller-visible view of the current token pair.
// The raw token strings are only ever exposed through Attach.
type TokenInfo struct {
	// Generation increases by one every time the pair is replaced
	Generation uint64
	// AccessExpiresAt is zero when the expiry is unknown
	AccessExpiresAt time.Time
}

// state is an immutable snapshot of the session. The manager swaps whole
// snapshots so readers never observe a half-replaced pair.
type state struct {
	token      *oauth2.Token
	principal  *types.Principal
	generation uint64
}

func (s *state) authenticated() bool {
	return s != nil && s.token != nil && s.token.AccessToken != ""
}

func (s *state) info() TokenInfo {
	if !s.authenticated() {
		return TokenInfo{}
	}
	return TokenInfo{Generation: s.generation, AccessExpiresAt: s.token.Expiry}
}

// expiredAt reports whether the access token is known to be expired at now,
// treating anything inside skew as expired.
func (s *state) expiredAt(now time.Time, skew time.Duration) bool {
	if !s.authenticated() || s.token.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.token.Expiry)
}

// newToken builds the oauth2 token for a freshly issued pair. The expiry is
// taken from expiresIn when present, else from the access token's exp claim.
func newToken(access, refresh string, expiresIn int64, now time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
	}
	if expiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(expiresIn) * time.Second)
	} else if exp, ok := accessExpiry(access); ok {
		tok.Expiry = exp
	}
	return tok
}

// unverifiedClaims parses a JWT without checking its signature. The backend
// is the verifier; the client only reads hints from the payload.
func unverifiedClaims(raw string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func accessExpiry(raw string) (time.Time, bool) {
	claims, ok := unverifiedClaims(raw)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// principalFromClaims derives the principal from access token claims when
// the login response does not carry one.
func principalFromClaims(raw string) (*types.Principal, bool) {
	claims, ok := unverifiedClaims(raw)
	if !ok {
		return nil, false
	}

	str := func(key string) string {
		if v, ok := claims[key].(string); ok {
			return v
		}
		return ""
	}

	role, err := types.ParseRoleTag(str("role"))
	if err != nil {
		return nil, false
	}
	p := &types.Principal{
		ID:           str("sub"),
		DisplayName:  str("name"),
		Email:        str("email"),
		Role:         role,
		LocationID:   str("location_id"),
		DepartmentID: str("department_id"),
	}
	if p.Validate() != nil {
		return nil, false
	}
	return p, true
}

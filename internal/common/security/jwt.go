package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/wra13107/digital-memorial-landing/internal/common"
)

const (
	SessionTTL  = 7 * 24 * time.Hour
	ElevatedTTL = 10 * time.Minute

	claimUserID  = "userId"
	claimEmail   = "email"
	claimIsAdmin = "isAdmin"
)

var ErrMissingSecret = errors.New("token signing secret is empty")

// Claims is the identity carried by a session token.
type Claims struct {
	UserID    int64
	Email     string
	IsAdmin   bool
	ExpiresAt time.Time
}

// TokenService signs and verifies HS256 session tokens.
type TokenService struct {
	auth *jwtauth.JWTAuth
	now  func() time.Time
}

// NewTokenService builds the service around secret. now may be nil, in which
// case the wall clock is used for both issuing and validating.
func NewTokenService(secret []byte, now func() time.Time) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		auth: jwtauth.New("HS256", secret, nil,
			jwxjwt.WithClock(jwxjwt.ClockFunc(now)),
			jwxjwt.WithAcceptableSkew(0),
		),
		now: now,
	}, nil
}

// JWTAuth exposes the underlying verifier for jwtauth request middleware.
func (s *TokenService) JWTAuth() *jwtauth.JWTAuth {
	return s.auth
}

// Issue signs a token for the user. Elevated (admin) sessions get the short TTL.
func (s *TokenService) Issue(userID int64, email string, isElevated bool) (string, error) {
	ttl := SessionTTL
	if isElevated {
		ttl = ElevatedTTL
	}
	now := s.now()
	claims := jwt.MapClaims{
		claimUserID:  userID,
		claimEmail:   email,
		claimIsAdmin: isElevated,
		"exp":        now.Add(ttl).Unix(),
		"iat":        now.Unix(),
	}
	_, tokenString, err := s.auth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return tokenString, nil
}

// Verify checks signature and expiry. Every failure wraps
// common.ErrInvalidOrExpiredToken; no claims are returned on failure.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwtauth.VerifyToken(s.auth, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidOrExpiredToken, err)
	}
	return ClaimsFromToken(token)
}

// ClaimsFromToken reads our private claims from a verified token.
func ClaimsFromToken(token jwxjwt.Token) (*Claims, error) {
	if token == nil {
		return nil, common.ErrInvalidOrExpiredToken
	}
	claims, err := ClaimsFromMap(token.PrivateClaims())
	if err != nil {
		return nil, err
	}
	claims.ExpiresAt = token.Expiration()
	return claims, nil
}

// ClaimsFromMap converts a decoded claim set into Claims.
func ClaimsFromMap(m jwt.MapClaims) (*Claims, error) {
	userID, err := int64Claim(m[claimUserID])
	if err != nil {
		return nil, fmt.Errorf("%w: %s claim: %v", common.ErrInvalidOrExpiredToken, claimUserID, err)
	}
	email, _ := m[claimEmail].(string)
	isAdmin, _ := m[claimIsAdmin].(bool)
	return &Claims{UserID: userID, Email: email, IsAdmin: isAdmin}, nil
}

func int64Claim(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, errors.New("not an integer")
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

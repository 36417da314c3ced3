// ABOUTME: JWT signing and verification for signed-mode session cookies
// ABOUTME: Uses HS256 with a key derived from the gateway secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Session tiers carried in the token's tier claim.
const (
	TierMaster   = "master"
	TierStandard = "standard"
)

// SessionClaims are the claims of a signed session token.
type SessionClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// SessionSigner issues and checks HS256 session tokens.
type SessionSigner struct {
	key []byte
}

// NewSessionSigner creates a signer with the given HMAC key.
func NewSessionSigner(key []byte) *SessionSigner {
	return &SessionSigner{key: key}
}

// Sign creates a token for the session that expires after ttl.
func (s *SessionSigner) Sign(sess Session, ttl time.Duration) (string, error) {
	subject := sess.Username
	tier := TierStandard
	if sess.Master {
		subject = TierMaster
		tier = TierMaster
	}

	now := time.Now()
	claims := SessionClaims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify validates the token and returns the session it describes.
func (s *SessionSigner) Verify(tokenString string) (Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrExpiredToken
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Session{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Session{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	switch claims.Tier {
	case TierMaster:
		return Session{Authenticated: true, Master: true}, nil
	case TierStandard:
		return Session{Authenticated: true, Username: claims.Subject}, nil
	default:
		return Session{}, fmt.Errorf("%w: tier", ErrMissingClaim)
	}
}

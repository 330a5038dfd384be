package store

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionIssuer   = "bookreview"
	sessionAudience = "bookreview-web"
	sessionLeeway   = 30 * time.Second
	minSecretLength = 32
)

// ErrInvalidSession is returned for tokens that fail verification.
var ErrInvalidSession = errors.New("invalid session")

// JWTSessionStore issues HS256-signed session tokens for the browser cookie.
// Logout revokes the token id until it would have expired.
type JWTSessionStore struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker
	now     func() time.Time
}

// NewJWTSessionStore builds a session store. The secret must be at least 32 bytes.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker) (*JWTSessionStore, error) {
	if len(secret) < minSecretLength {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &JWTSessionStore{
		secret:  []byte(secret),
		ttl:     ttl,
		revoker: revoker,
		now:     time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.ttl
}

// NewSession creates a signed token for the user ID.
func (s *JWTSessionStore) NewSession(userID uint) (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		Issuer:    sessionIssuer,
		Audience:  jwt.ClaimStrings{sessionAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// GetUserIDByToken validates a token and returns its subject.
// Expired, tampered and revoked tokens report ok=false without an error.
func (s *JWTSessionStore) GetUserIDByToken(token string) (uint, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return 0, false, nil
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return 0, false, err
		}
		if revoked {
			return 0, false, nil
		}
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, false, nil
	}
	return uint(id), true, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

func (s *JWTSessionStore) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(sessionLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return claims, ErrInvalidSession
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidSession
	}
	return claims, nil
}

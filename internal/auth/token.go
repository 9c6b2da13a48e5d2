package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

const MinKeyLength = 16

var ErrWeakKey = fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)

// Claims is the bearer credential payload.
type Claims struct {
	UserID    string      `json:"uid"`
	Role      domain.Role `json:"role"`
	Locations []string    `json:"locations"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer credentials.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokens(key string, ttl time.Duration) (*Tokens, error) {
	if len(key) < MinKeyLength {
		return nil, ErrWeakKey
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{key: []byte(key), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Issue(p domain.Principal) (string, time.Time, error) {
	return t.IssueFor(p, t.ttl)
}

func (t *Tokens) IssueFor(p domain.Principal, ttl time.Duration) (string, time.Time, error) {
	if !p.Authenticated() {
		return "", time.Time{}, errors.New("principal needs a user id and a valid role")
	}
	now := t.now()
	expires := now.Add(ttl)
	claims := Claims{
		UserID:    p.UserID,
		Role:      p.Role,
		Locations: p.Locations,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature and expiry and returns the encoded principal.
func (t *Tokens) Verify(raw string) (domain.Principal, error) {
	if raw == "" {
		return domain.Principal{}, domain.Errorf(domain.KindUnauthorized, "missing credential")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, domain.Errorf(domain.KindUnauthorized, "credential expired")
		}
		return domain.Principal{}, domain.Errorf(domain.KindUnauthorized, "invalid credential")
	}
	p := domain.Principal{UserID: claims.UserID, Role: claims.Role, Locations: claims.Locations}
	if !p.Authenticated() {
		return domain.Principal{}, domain.Errorf(domain.KindUnauthorized, "invalid credential claims")
	}
	if p.Locations == nil {
		p.Locations = []string{}
	}
	return p, nil
}

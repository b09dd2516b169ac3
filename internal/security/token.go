package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// ParticipantClaims identify a participant's progress record
type ParticipantClaims struct {
	ProgressID string `json:"pid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies participant bearer tokens (HS256)
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for progressID
func (t *TokenIssuer) Issue(progressID string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := &ParticipantClaims{
		ProgressID: progressID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   progressID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates tokenStr and returns its progress id
func (t *TokenIssuer) Parse(tokenStr string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	claims := &ParticipantClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid || claims.ProgressID == "" {
		return "", ErrInvalidToken
	}
	return claims.ProgressID, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

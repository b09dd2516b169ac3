package security

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfirmation = errors.New("invalid or expired confirmation token")

// ResetConfirmer issues the second-step token an admin must echo back to
// commit a participant reset. The token is bound to the record id and the
// version the admin looked at, so any later write invalidates it.
type ResetConfirmer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResetConfirmer(secret string, ttl time.Duration) *ResetConfirmer {
	return &ResetConfirmer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a token for (progressID, version)
func (c *ResetConfirmer) Issue(progressID string, version int64) (string, time.Time) {
	expires := c.now().Add(c.ttl)
	payload := fmt.Sprintf("%s|%d|%d", progressID, version, expires.Unix())
	mac := sign(c.secret, "reset", payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(mac), expires
}

// Verify checks token for progressID and returns the version it was issued for
func (c *ResetConfirmer) Verify(progressID, token string) (int64, error) {
	encPayload, encMAC, ok := strings.Cut(token, ".")
	if !ok {
		return 0, ErrInvalidConfirmation
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return 0, ErrInvalidConfirmation
	}
	mac, err := base64.RawURLEncoding.DecodeString(encMAC)
	if err != nil || !hmac.Equal(mac, sign(c.secret, "reset", string(payload))) {
		return 0, ErrInvalidConfirmation
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] != progressID {
		return 0, ErrInvalidConfirmation
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidConfirmation
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || c.now().Unix() > expires {
		return 0, ErrInvalidConfirmation
	}
	return version, nil
}

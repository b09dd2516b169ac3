package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFGenerator(t *testing.T) {
	g := NewCSRFGenerator("secret")

	token, err := g.GenerateToken("session-1")
	require.NoError(t, err)
	assert.True(t, g.ValidateToken("session-1", token))
	assert.False(t, g.ValidateToken("session-2", token))
	assert.False(t, g.ValidateToken("session-1", ""))
	assert.False(t, NewCSRFGenerator("other").ValidateToken("session-1", token))

	_, err = g.GenerateToken("")
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2, time.Minute)
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	clock = clock.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remote: "10.0.0.2:1234", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.2:1234", want: "198.51.100.7"},
		{name: "remote addr", remote: "192.0.2.1:5555", want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hash)
	assert.True(t, CheckPassword(hash, "correct horse battery"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "anything"))
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, expires, err := issuer.Issue("progress-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	id, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "progress-1", id)

	_, err = NewTokenIssuer("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired token")
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
}

func TestResetConfirmer(t *testing.T) {
	c := NewResetConfirmer("secret", 5*time.Minute)
	token, _ := c.Issue("p1", 7)

	version, err := c.Verify("p1", token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), version)

	_, err = c.Verify("p2", token)
	assert.ErrorIs(t, err, ErrInvalidConfirmation)

	_, err = c.Verify("p1", token+"x")
	assert.ErrorIs(t, err, ErrInvalidConfirmation)

	_, err = NewResetConfirmer("other", time.Minute).Verify("p1", token)
	assert.ErrorIs(t, err, ErrInvalidConfirmation)

	c.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err = c.Verify("p1", token)
	assert.ErrorIs(t, err, ErrInvalidConfirmation)
}

func lineClaims(aud, sub, nonce string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   LineIssuer,
		"aud":   aud,
		"sub":   sub,
		"name":  "Taro",
		"nonce": nonce,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestLineIDVerifierHS256(t *testing.T) {
	v := NewLineIDVerifier("1650000000", "channel-secret")
	ctx := context.Background()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, lineClaims("1650000000", "U1", "n1")).SignedString([]byte("channel-secret"))
	require.NoError(t, err)

	id, err := v.Verify(ctx, signed, "n1")
	require.NoError(t, err)
	assert.Equal(t, "U1", id.UserID)
	assert.Equal(t, "Taro", id.Name)

	_, err = v.Verify(ctx, signed, "other-nonce")
	assert.ErrorIs(t, err, ErrInvalidIDToken)

	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodHS256, lineClaims("999", "U1", "")).SignedString([]byte("channel-secret"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, wrongAud, "")
	assert.ErrorIs(t, err, ErrInvalidIDToken)
}

func TestLineIDVerifierES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		pad := func(b []byte) []byte {
			out := make([]byte, 32)
			copy(out[32-len(b):], b)
			return out
		}
		_ = json.NewEncoder(w).Encode(lineJWKS{Keys: []lineJWK{{
			Kid: "k1",
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(pad(key.X.Bytes())),
			Y:   base64.RawURLEncoding.EncodeToString(pad(key.Y.Bytes())),
		}}})
	}))
	defer srv.Close()

	v := NewLineIDVerifier("1650000000", "")
	v.jwksURL = srv.URL

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, lineClaims("1650000000", "U2", ""))
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		id, err := v.Verify(context.Background(), signed, "")
		require.NoError(t, err)
		assert.Equal(t, "U2", id.UserID)
	}
	assert.Equal(t, 1, fetches, "keys are cached")

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, lineClaims("1650000000", "U2", "")).SignedString([]byte("guess"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), hs, "")
	assert.ErrorIs(t, err, ErrInvalidIDToken, "HS256 without a configured secret is rejected")
}

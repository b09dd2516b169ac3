package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	LineIssuer      = "https://access.line.me"
	LineJWKSURL     = "https://api.line.me/oauth2/v2.1/certs"
	jwksRefreshTime = time.Hour
)

var ErrInvalidIDToken = errors.New("invalid LINE id token")

// LineIdentity is the verified subject of a LINE ID token
type LineIdentity struct {
	UserID  string
	Name    string
	Picture string
	Email   string
}

type lineTokenClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
	Nonce   string `json:"nonce"`
}

type lineJWKS struct {
	Keys []lineJWK `json:"keys"`
}

type lineJWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// LineIDVerifier checks ID tokens from LIFF (ES256, JWKS) and LINE Login
// web flows (HS256 with the channel secret).
type LineIDVerifier struct {
	channelID     string
	channelSecret []byte
	jwksURL       string
	client        *http.Client

	mu      sync.Mutex
	keys    map[string]*ecdsa.PublicKey
	fetched time.Time
}

func NewLineIDVerifier(channelID, channelSecret string) *LineIDVerifier {
	return &LineIDVerifier{
		channelID:     channelID,
		channelSecret: []byte(channelSecret),
		jwksURL:       LineJWKSURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a channel is configured
func (v *LineIDVerifier) Enabled() bool {
	return v != nil && v.channelID != ""
}

// Verify validates idToken for this channel. A non-empty nonce must match the token's nonce.
func (v *LineIDVerifier) Verify(ctx context.Context, idToken, nonce string) (*LineIdentity, error) {
	if !v.Enabled() {
		return nil, fmt.Errorf("%w: LINE channel not configured", ErrInvalidIDToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"ES256", "HS256"}),
		jwt.WithIssuer(LineIssuer),
		jwt.WithAudience(v.channelID),
		jwt.WithExpirationRequired(),
	)
	claims := &lineTokenClaims{}
	token, err := parser.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(v.channelSecret) == 0 {
				return nil, errors.New("channel secret not configured")
			}
			return v.channelSecret, nil
		default:
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing key id")
			}
			return v.publicKey(ctx, kid)
		}
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}

	return &LineIdentity{
		UserID:  claims.Subject,
		Name:    claims.Name,
		Picture: claims.Picture,
		Email:   claims.Email,
	}, nil
}

// publicKey returns the cached key for kid, refetching the key set when the
// kid is unknown or the cache is old.
func (v *LineIDVerifier) publicKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetched) < jwksRefreshTime {
		return key, nil
	}
	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetched = time.Now()

	key, ok := keys[kid]
	if !ok {
		return nil, errors.New("LINE public key not found")
	}
	return key, nil
}

func (v *LineIDVerifier) fetchKeys(ctx context.Context) (map[string]*ecdsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch LINE public keys: status %d", resp.StatusCode)
	}

	var set lineJWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode LINE public keys: %w", err)
	}

	keys := make(map[string]*ecdsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "EC" || k.Crv != "P-256" {
			continue
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			continue
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			continue
		}
		keys[k.Kid] = &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
	}
	return keys, nil
}

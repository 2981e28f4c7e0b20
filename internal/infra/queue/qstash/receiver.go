package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

const issuer = "Upstash"

// Claims carried by the Upstash-Signature JWT.
type Claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// Receiver verifies inbound QStash signatures. During key rotation QStash
// may sign with either key, so both are tried.
type Receiver struct {
	currentKey []byte
	nextKey    []byte
	leeway     time.Duration
	now        func() time.Time
}

func NewReceiver(currentKey, nextKey string) (*Receiver, error) {
	if currentKey == "" || nextKey == "" {
		return nil, errors.New("QSTASH signing keys are required")
	}
	return &Receiver{
		currentKey: []byte(currentKey),
		nextKey:    []byte(nextKey),
		leeway:     5 * time.Second,
		now:        time.Now,
	}, nil
}

// WithClock overrides the time source used for exp/nbf checks.
func (r *Receiver) WithClock(now func() time.Time) *Receiver {
	r.now = now
	return r
}

// Verify checks signature against body and the externally reachable
// webhookURL QStash delivered to. The URL must be the configured one, not one
// rebuilt from the inbound request, which differs behind a proxy.
func (r *Receiver) Verify(signature string, body []byte, webhookURL string) error {
	if strings.TrimSpace(signature) == "" {
		return errors.Mark(errors.New("Missing signature"), domain.ErrUnauthorized)
	}
	err := r.verifyWithKey(r.currentKey, signature, body, webhookURL)
	if err == nil {
		return nil
	}
	if errNext := r.verifyWithKey(r.nextKey, signature, body, webhookURL); errNext == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "Invalid signature"), domain.ErrUnauthorized)
}

func (r *Receiver) verifyWithKey(key []byte, signature string, body []byte, webhookURL string) error {
	var claims Claims
	_, err := jwt.ParseWithClaims(signature, &claims,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(webhookURL),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return err
	}
	if strings.TrimRight(claims.Body, "=") != BodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// BodyHash is the unpadded base64url SHA-256 of body, as in the body claim.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign produces a signature the way QStash does. Used by tests and local
// tooling that replays deliveries.
func Sign(key, webhookURL string, body []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   webhookURL,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Body: BodyHash(body),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

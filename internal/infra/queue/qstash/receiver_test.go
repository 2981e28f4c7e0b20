package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

const (
	hookURL    = "https://api.example.com/webhook"
	currentKey = "sig_current"
	nextKey    = "sig_next"
)

func newTestReceiver(t *testing.T, now time.Time) *Receiver {
	t.Helper()
	r, err := NewReceiver(currentKey, nextKey)
	require.NoError(t, err)
	return r.WithClock(func() time.Time { return now })
}

func TestVerifyAcceptsCurrentAndNextKey(t *testing.T) {
	now := time.Now()
	r := newTestReceiver(t, now)
	body := []byte(`{"requestId":"abc"}`)

	for _, key := range []string{currentKey, nextKey} {
		sig, err := Sign(key, hookURL, body, now, 5*time.Minute)
		require.NoError(t, err)
		assert.NoError(t, r.Verify(sig, body, hookURL), key)
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Now()
	r := newTestReceiver(t, now)
	body := []byte(`{"requestId":"abc"}`)
	good, err := Sign(currentKey, hookURL, body, now, 5*time.Minute)
	require.NoError(t, err)
	wrongKey, err := Sign("other", hookURL, body, now, 5*time.Minute)
	require.NoError(t, err)
	expired, err := Sign(currentKey, hookURL, body, now.Add(-time.Hour), 5*time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name string
		sig  string
		body []byte
		url  string
	}{
		{"missing", "", body, hookURL},
		{"garbage", "not-a-jwt", body, hookURL},
		{"tampered body", good, []byte(`{"requestId":"xyz"}`), hookURL},
		{"wrong key", wrongKey, body, hookURL},
		{"wrong url", good, body, "http://10.0.0.5:3001/webhook"},
		{"expired", expired, body, hookURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Verify(tc.sig, tc.body, tc.url)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrUnauthorized))
		})
	}
}

func TestVerifyToleratesPaddedBodyClaim(t *testing.T) {
	now := time.Now()
	r := newTestReceiver(t, now)
	body := []byte("x")
	sum := sha256.Sum256(body)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   hookURL,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Body: base64.URLEncoding.EncodeToString(sum[:]),
	}
	sig, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(currentKey))
	require.NoError(t, err)

	assert.NoError(t, r.Verify(sig, body, hookURL))
}

func TestNewReceiverRequiresKeys(t *testing.T) {
	_, err := NewReceiver("", nextKey)
	assert.Error(t, err)
	_, err = NewReceiver(currentKey, "")
	assert.Error(t, err)
}

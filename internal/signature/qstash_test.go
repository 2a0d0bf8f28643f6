package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var body = []byte(`{"event_type":"deploy","provider_event_id":"evt_1","message":"done"}`)

func signJWT(t *testing.T, key, sub string, payload []byte, issuedAt time.Time) string {
	t.Helper()
	sum := sha256.Sum256(payload)
	claims := bodyClaims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    qstashIssuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(5 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func hmacSum(key string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return mac.Sum(nil)
}

func TestVerifyJWT(t *testing.T) {
	now := time.Now()
	v := NewVerifierWithKeys("https://relay.example.com/api/push/dispatch", "current", "next")

	assert.NoError(t, v.Verify(signJWT(t, "current", "https://relay.example.com/api/push/dispatch", body, now), body))
	assert.NoError(t, v.Verify(signJWT(t, "next", "https://relay.example.com/api/push/dispatch", body, now), body))

	assert.ErrorIs(t, v.Verify(signJWT(t, "other", "https://relay.example.com/api/push/dispatch", body, now), body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(signJWT(t, "current", "https://evil.example.com", body, now), body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(signJWT(t, "current", "https://relay.example.com/api/push/dispatch", []byte("tampered"), now), body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(signJWT(t, "current", "https://relay.example.com/api/push/dispatch", body, now.Add(-time.Hour)), body), ErrSignatureInvalid)
}

func TestVerifyJWTWithoutURLSkipsSubject(t *testing.T) {
	v := NewVerifierWithKeys("", "current")
	assert.NoError(t, v.Verify(signJWT(t, "current", "https://anything.example.com", body, time.Now()), body))
}

func TestVerifyLegacyHMAC(t *testing.T) {
	v := NewVerifierWithKeys("", "current", "next")
	sum := hmacSum("next", body)

	cases := map[string]string{
		"base64":      base64.StdEncoding.EncodeToString(sum),
		"base64url":   base64.RawURLEncoding.EncodeToString(sum),
		"hex":         hex.EncodeToString(sum),
		"v1 prefix":   "v1=" + hex.EncodeToString(sum),
		"multi parts": "t=1700000000, v1=" + base64.StdEncoding.EncodeToString(sum),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Verify(header, body))
		})
	}

	assert.ErrorIs(t, v.Verify("v1="+hex.EncodeToString(hmacSum("wrong", body)), body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(hex.EncodeToString(sum), []byte("tampered")), ErrSignatureInvalid)
}

func TestVerifyPreconditions(t *testing.T) {
	assert.ErrorIs(t, NewVerifierWithKeys("", "k").Verify("  ", body), ErrSignatureMissing)
	assert.ErrorIs(t, NewVerifierWithKeys("", " ", "").Verify("v1=abc", body), ErrSigningKeyNotConfigured)
	assert.False(t, NewVerifierWithKeys("").Enabled())
	assert.True(t, NewVerifierWithKeys("", "k").Enabled())
}

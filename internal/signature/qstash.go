package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/pushrelay/internal/config"
)

const (
	qstashIssuer = "Upstash"
	legacyPrefix = "v1="
)

var (
	ErrSignatureMissing        = errors.New("signature_missing")
	ErrSignatureInvalid        = errors.New("invalid_signature")
	ErrSigningKeyNotConfigured = errors.New("signing_key_not_configured")
)

// Verifier checks QStash request signatures against the current and next
// signing keys so keys can be rotated without downtime.
type Verifier struct {
	keys   []string
	url    string
	leeway time.Duration
	now    func() time.Time
}

type bodyClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func NewVerifier(cfg config.Config) *Verifier {
	return NewVerifierWithKeys(cfg.QStash.URL, cfg.QStash.CurrentSigningKey, cfg.QStash.NextSigningKey)
}

func NewVerifierWithKeys(url string, keys ...string) *Verifier {
	v := &Verifier{
		url:    strings.TrimSpace(url),
		leeway: time.Second,
		now:    time.Now,
	}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			v.keys = append(v.keys, key)
		}
	}
	return v
}

// Enabled reports whether any signing key is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.keys) > 0
}

// Verify accepts either a QStash JWT or a legacy HMAC-SHA256 signature of body.
func (v *Verifier) Verify(signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	if !v.Enabled() {
		return ErrSigningKeyNotConfigured
	}

	if looksLikeJWT(signature) {
		var lastErr error
		for _, key := range v.keys {
			if lastErr = v.verifyJWT(signature, key, body); lastErr == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, lastErr)
	}

	value := legacyValue(signature)
	if value == "" {
		return ErrSignatureInvalid
	}
	for _, key := range v.keys {
		if matchesHMAC(value, key, body) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

func (v *Verifier) verifyJWT(token, key string, body []byte) error {
	claims := &bodyClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(qstashIssuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.url != "" {
		opts = append(opts, jwt.WithSubject(v.url))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	got := strings.TrimRight(claims.Body, "=")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return errors.New("body hash mismatch")
	}
	return nil
}

func looksLikeJWT(signature string) bool {
	return strings.Count(signature, ".") == 2 && !strings.Contains(signature, ",")
}

// legacyValue extracts the signature from "v1=<sig>", "t=..,v1=<sig>" or a
// bare value.
func legacyValue(header string) string {
	if strings.HasPrefix(header, legacyPrefix) {
		return strings.TrimPrefix(header, legacyPrefix)
	}
	if !strings.Contains(header, ",") {
		return header
	}
	parts := strings.Split(header, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if strings.HasPrefix(parts[i], legacyPrefix) {
			return strings.TrimPrefix(parts[i], legacyPrefix)
		}
	}
	return parts[0]
}

func matchesHMAC(provided, key string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	sum := mac.Sum(nil)

	candidates := []string{
		base64.StdEncoding.EncodeToString(sum),
		base64.RawURLEncoding.EncodeToString(sum),
		hex.EncodeToString(sum),
	}
	matched := false
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(candidate)) == 1 {
			matched = true
		}
	}
	return matched
}

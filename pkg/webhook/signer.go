package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Signature headers. The signed message is "<timestamp>.<body>".
const (
	SignatureHeader = "X-Oraclevoice-Signature-256"
	TimestampHeader = "X-Oraclevoice-Timestamp"
)

var (
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
	ErrStaleSignature    = errors.New("webhook: signature timestamp outside tolerance")
)

// Sign produces an HMAC-SHA256 signature in the format "sha256=<hex>".
func Sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks that the given signature matches the expected HMAC.
func Verify(secret string, ts int64, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, ts, payload)), []byte(signature))
}

// VerifyRequest checks the signature headers of a received delivery. Receivers
// use it to reject forged or replayed callbacks.
func VerifyRequest(secret string, h http.Header, payload []byte, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(h.Get(TimestampHeader), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureMismatch)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return ErrStaleSignature
	}
	if !Verify(secret, ts, payload, h.Get(SignatureHeader)) {
		return ErrSignatureMismatch
	}
	return nil
}

// GenerateSecret returns a cryptographically random 32-byte hex string.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

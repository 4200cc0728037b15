package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prefix is the scheme tag carried in the signature header.
const Prefix = "sha256="

// DefaultTolerance is the replay window applied to the timestamp header.
const DefaultTolerance = 300 * time.Second

var (
	ErrMissingSignature        = fmt.Errorf("missing signature header")
	ErrInvalidSignatureFormat  = fmt.Errorf("invalid signature format")
	ErrInvalidSignature        = fmt.Errorf("signature mismatch")
	ErrTimestampOutOfTolerance = fmt.Errorf("timestamp outside tolerance window")
	ErrInvalidTimestamp        = fmt.Errorf("invalid timestamp header")
)

// Sign computes the signature header value for the exact body bytes.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the HMAC-SHA256 of the raw body bytes using a
// constant-time comparison. Pure validation, no side effects.
func Verify(body []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, Prefix) {
		return ErrInvalidSignatureFormat
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, Prefix))
	if err != nil || len(got) != sha256.Size {
		return ErrInvalidSignatureFormat
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyTimestamp enforces the replay window when a timestamp header is
// supplied. An empty header passes: the signature alone authenticates.
func VerifyTimestamp(header string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	diff := now.Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return ErrTimestampOutOfTolerance
	}
	return nil
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureInvalid is returned for any webhook delivery whose signature
// header cannot be verified. Such deliveries are dropped with no side effects.
var ErrSignatureInvalid = errors.New("invalid webhook signature")

// SignatureHeader carries the timestamped HMAC of the raw webhook body,
// formatted "t=<unix>,v1=<hex>".
const SignatureHeader = "Gateway-Signature"

// VerifySignature checks the HMAC-SHA256 signature of payload against the
// webhook secret. The timestamp must be within tolerance of now so a captured
// delivery cannot be replayed later.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	sent := time.Unix(ts, 0)
	if d := now.Sub(sent); d > tolerance || d < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := ComputeSignature(payload, secret, ts)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<ts>.<payload>".
func ComputeSignature(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}
	return ts, sig, nil
}

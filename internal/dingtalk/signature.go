package dingtalk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Requests older or newer than one hour are rejected regardless of signature.
const signatureMaxSkewMS = 3600000

// Verify reports whether a webhook request signature is authentic and fresh.
// The timestamp is the millisecond value from the request header; sign is the
// base64 HMAC-SHA256 of "{timestamp}\n{secret}" keyed with the secret.
func Verify(timestamp, sign, secret string) bool {
	return verifyAt(time.Now(), timestamp, sign, secret)
}

func verifyAt(now time.Time, timestamp, sign, secret string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.UnixMilli() - ts
	if skew > signatureMaxSkewMS || skew < -signatureMaxSkewMS {
		return false
	}
	want := Sign(timestamp, secret)
	return hmac.Equal([]byte(want), []byte(sign))
}

// Sign computes the signature for a timestamp and secret.
func Sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

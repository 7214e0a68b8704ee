package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVersion prefixes every signature header value.
const SignatureVersion = "v1"

// Signer computes the signature header value for a request body.
type Signer interface {
	Sign(secret, timestamp string, body []byte) string
}

// HMACSigner signs with HMAC-SHA256 over timestamp + "." + hex(sha256(body)).
type HMACSigner struct{}

// Sign returns "v1=<hex digest>".
func (HMACSigner) Sign(secret, timestamp string, body []byte) string {
	return SignatureVersion + "=" + hex.EncodeToString(digest(secret, timestamp, body))
}

func digest(secret, timestamp string, body []byte) []byte {
	sum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(hex.EncodeToString(sum[:])))
	return mac.Sum(nil)
}

// Verify checks a signature header produced by HMACSigner in constant time.
func Verify(secret, timestamp string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, SignatureVersion+"=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(secret, timestamp, body))
}

// Package clob signs requests for Polymarket's CLOB and proxies the few
// endpoints the backend calls on a user's behalf.
package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// sanitizeBase64Secret accepts base64url secrets ('-' and '_'), drops any
// other non-base64 symbol and restores padding.
func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}

// BuildHMACSignature signs timestamp+method+path+body with the decoded
// secret and returns URL-safe base64, padding kept.
func BuildHMACSignature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	if body != nil {
		mac.Write(body)
	}

	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks a Paddle-Signature header of the form
// "ts=<unix>;h1=<hex hmac>" against HMAC-SHA256(secret, ts + ":" + body).
func VerifyWebhookSignature(rawBody []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "h1":
			h1 = value
		}
	}
	if ts == "" || h1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(expected) != len(h1) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(h1)) == 1
}

// SignWebhook produces a header VerifyWebhookSignature accepts.
func SignWebhook(rawBody []byte, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(rawBody)
	return "ts=" + ts + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// sign computes the BitMEX API request signature:
// hex(HMAC_SHA256(secret, verb + path + expires + body)). The path must
// include the query string exactly as sent on the wire.
func sign(secret, verb, path string, expires int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(verb + path + strconv.FormatInt(expires, 10) + body))
	return hex.EncodeToString(mac.Sum(nil))
}

package escalation

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"hexascan/core/utils"
)

// TokenCodec issues bearer tokens for public issue pages and derives
// per-level signatures bound to token+level, so a level-1 recipient's link
// cannot be replayed to claim level-2/3 authority.
type TokenCodec struct {
	secret []byte
}

func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// GenerateToken returns 256 bits of randomness, hex-encoded. The token is a
// standalone bearer credential embedded in a public URL.
func (c *TokenCodec) GenerateToken() (string, error) {
	return utils.RandString(32)
}

// SignLevel computes HMAC-SHA256 over "{token}:{level}". The digest is kept
// at full length; truncation would weaken brute-force resistance.
func (c *TokenCodec) SignLevel(token string, level int) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%d", token, level)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyLevel recomputes the expected signature and compares in constant
// time. Length mismatch is rejected before any byte comparison.
func (c *TokenCodec) VerifyLevel(token string, level int, signature string) bool {
	expected := c.SignLevel(token, level)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

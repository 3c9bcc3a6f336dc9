package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// MinSecretLen is the minimum accepted secret length. Anything shorter is
// rejected at startup rather than silently weakening every token issued.
const MinSecretLen = 32

// Engine computes and verifies HMAC-SHA256 signatures over token payloads.
// The key is derived once at construction; the engine itself is stateless
// and safe for concurrent use.
type Engine struct {
	key []byte
}

func New(secret string) (*Engine, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("secret key must be at least %d characters, got %d", MinSecretLen, len(secret))
	}
	return &Engine{key: []byte(secret)}, nil
}

// Sign returns the HMAC-SHA256 signature of data.
func (e *Engine) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, e.key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify reports whether sig is a valid signature of data.
// Comparison is constant-time.
func (e *Engine) Verify(data, sig []byte) bool {
	return hmac.Equal(sig, e.Sign(data))
}

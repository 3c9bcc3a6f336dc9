package token

import (
	"crypto/rand"
	"fmt"
)

// CodeLen is the fixed length of voucher codes, legacy and current.
const CodeLen = 12

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L) so codes survive
// being read aloud or typed from a receipt.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode generates a cryptographically random voucher code.
func NewCode() (string, error) {
	b := make([]byte, CodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate voucher code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

// IsLegacyCode reports whether s looks like a pre-signing-era bare voucher
// code: exactly CodeLen alphanumeric characters, no delimiter.
func IsLegacyCode(s string) bool {
	if len(s) != CodeLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

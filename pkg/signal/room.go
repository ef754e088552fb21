package signal

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// SessionCodeLength is the number of characters in a session code.
const SessionCodeLength = 8

// codeChars omits characters that are easy to confuse when read aloud.
const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateSessionCode creates a random uppercase alphanumeric session code.
func GenerateSessionCode() (string, error) {
	var b strings.Builder
	b.Grow(SessionCodeLength)
	limit := big.NewInt(int64(len(codeChars)))
	for i := 0; i < SessionCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeChars[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeSessionCode ensures consistent formatting (uppercase, trimmed, no separators).
func NormalizeSessionCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// ValidateSessionCode checks that code is SessionCodeLength uppercase letters or digits.
func ValidateSessionCode(code string) bool {
	if len(code) != SessionCodeLength {
		return false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

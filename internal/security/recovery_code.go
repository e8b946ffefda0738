package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Recovery code layout: three groups of five symbols from a 32 letter alphabet without 0, O, 1 or I.
const (
	recoveryCodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	recoveryCodeGroups    = 3
	recoveryCodeGroupSize = 5
	recoveryCodeSeparator = "-"
)

// GenerateRecoveryCode returns a new random code such as "K7QXM-3HTRP-WN9CA".
func GenerateRecoveryCode() (string, error) {
	total := recoveryCodeGroups * recoveryCodeGroupSize
	buf := make([]byte, total)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	var b strings.Builder
	for i, v := range buf {
		if i > 0 && i%recoveryCodeGroupSize == 0 {
			b.WriteString(recoveryCodeSeparator)
		}
		b.WriteByte(recoveryCodeAlphabet[int(v)%len(recoveryCodeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeRecoveryCode strips separators and whitespace, upper-cases the code and validates it.
func NormalizeRecoveryCode(code string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		switch r {
		case '-', ' ', '\t', '_':
			continue
		}
		if !strings.ContainsRune(recoveryCodeAlphabet, r) {
			return "", false
		}
		b.WriteRune(r)
	}
	if b.Len() != recoveryCodeGroups*recoveryCodeGroupSize {
		return "", false
	}
	return b.String(), true
}

// HashRecoveryCode returns the stored hash for a normalized code owned by userID.
func HashRecoveryCode(userID uint64, normalized string) string {
	sum := sha256.Sum256([]byte(strconv.FormatUint(userID, 10) + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

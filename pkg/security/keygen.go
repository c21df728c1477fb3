package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// keyAlphabet drops 0/O/1/I so keys survive being read over the phone.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	keyGroups   = 4
	keyGroupLen = 4
)

// GenerateLicenseKey produces a license key like "PRO-7F3K-9QWM-ZX2N-4TRH".
// The prefix is purely cosmetic, for operator readability; authorization must
// always re-derive the plan from the stored license row.
func GenerateLicenseKey(prefix string) (string, error) {
	groups := make([]string, 0, keyGroups+1)
	if prefix != "" {
		groups = append(groups, strings.ToUpper(prefix))
	}

	for i := 0; i < keyGroups; i++ {
		g, err := randomAlphaNumeric(keyGroupLen)
		if err != nil {
			return "", err
		}
		groups = append(groups, g)
	}

	return strings.Join(groups, "-"), nil
}

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = keyAlphabet[num.Int64()]
	}
	return string(b), nil
}

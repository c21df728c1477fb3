package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateLicenseKeyFormat(t *testing.T) {
	key, err := GenerateLicenseKey("PRO")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^PRO(-[A-HJ-NP-Z2-9]{4}){4}$`), key)
}

func TestGenerateLicenseKeyIsRandom(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		key, err := GenerateLicenseKey("FREE")
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

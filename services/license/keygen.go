package license

import (
	"strings"

	"contentplane/pkg/security"
	"contentplane/services/plan"
)

// KeyGenerator mints license keys. Keys carry the plan name as a visible
// prefix for operators; the prefix is never trusted during authorization.
type KeyGenerator interface {
	Generate(p plan.Plan) (string, error)
}

type randomKeyGenerator struct{}

func NewKeyGenerator() KeyGenerator {
	return &randomKeyGenerator{}
}

func (g *randomKeyGenerator) Generate(p plan.Plan) (string, error) {
	prefix := strings.ToUpper(p.String())
	if prefix == "" {
		prefix = "FREE"
	}
	return security.GenerateLicenseKey(prefix)
}

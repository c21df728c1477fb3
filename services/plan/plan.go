package plan

// Plan is the closed set of purchasable plans. Anything outside this set is
// treated as Free so a corrupted plan column can never grant elevated access.
type Plan string

const (
	Free    Plan = "free"
	Starter Plan = "starter"
	Pro     Plan = "pro"
	Agency  Plan = "agency"
)

func (p Plan) String() string {
	switch p {
	case Free, Starter, Pro, Agency:
		return string(p)
	default:
		return ""
	}
}

func (p Plan) Valid() bool {
	return p.String() != ""
}

// Capability is an optional feature unlocked by plan.
type Capability string

const (
	CapabilityPlagiarismCheck   Capability = "plagiarism_check"
	CapabilityAIDetectionBypass Capability = "ai_detection_bypass"
	CapabilitySEOOptimization   Capability = "seo_optimization"
	CapabilitySearchConsole     Capability = "search_console_integration"
)

// Limits are the default resource ceilings for a plan. A license row may
// override them; capabilities always derive from the plan itself.
type Limits struct {
	MaxDomains         int
	MaxContentPerMonth int
}

type Definition struct {
	Plan         Plan
	Capabilities []Capability
	Limits       Limits
}

var definitions = map[Plan]Definition{
	Free: {
		Plan:         Free,
		Capabilities: []Capability{},
		Limits:       Limits{MaxDomains: 1, MaxContentPerMonth: 10},
	},
	Starter: {
		Plan: Starter,
		Capabilities: []Capability{
			CapabilityPlagiarismCheck,
		},
		Limits: Limits{MaxDomains: 3, MaxContentPerMonth: 50},
	},
	Pro: {
		Plan: Pro,
		Capabilities: []Capability{
			CapabilityPlagiarismCheck,
			CapabilitySEOOptimization,
			CapabilityAIDetectionBypass,
		},
		Limits: Limits{MaxDomains: 10, MaxContentPerMonth: 200},
	},
	Agency: {
		Plan: Agency,
		Capabilities: []Capability{
			CapabilityPlagiarismCheck,
			CapabilitySEOOptimization,
			CapabilityAIDetectionBypass,
			CapabilitySearchConsole,
		},
		Limits: Limits{MaxDomains: 50, MaxContentPerMonth: 1000},
	},
}

func lookup(p Plan) Definition {
	if def, ok := definitions[p]; ok {
		return def
	}
	return definitions[Free]
}

// Capabilities resolves the capability set for a plan. Unknown plans fall
// back to the Free set.
func Capabilities(p Plan) []Capability {
	def := lookup(p)
	out := make([]Capability, len(def.Capabilities))
	copy(out, def.Capabilities)
	return out
}

// DefaultLimits resolves the default limits for a plan, used when the license
// row carries no explicit overrides. Unknown plans fall back to Free limits.
func DefaultLimits(p Plan) Limits {
	return lookup(p).Limits
}

// HasCapability reports whether the plan unlocks the given capability.
func HasCapability(p Plan, c Capability) bool {
	for _, have := range lookup(p).Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

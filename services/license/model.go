package license

import (
	"time"

	"contentplane/services/plan"

	"gorm.io/datatypes"
)

type Status string

var (
	Pending   Status = "pending"
	Active    Status = "active"
	Expired   Status = "expired"
	Cancelled Status = "cancelled"
)

func (s Status) String() string {
	switch s {
	case Pending, Active, Expired, Cancelled:
		return string(s)
	default:
		return ""
	}
}

// Terminal reports whether the status admits no further lifecycle transition.
// Reactivation out of expired/cancelled is an administrative action only.
func (s Status) Terminal() bool {
	return s == Expired || s == Cancelled
}

type License struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
	TenantID           string     `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	LicenseKey         string     `gorm:"column:license_key;uniqueIndex;not null" json:"license_key"`
	Plan               plan.Plan  `gorm:"column:plan;not null" json:"plan"`
	Status             Status     `gorm:"column:status;not null" json:"status"`
	ExpiresAt          *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"` // nil = never expires
	MaxDomains         int        `gorm:"column:max_domains;not null" json:"max_domains"`
	MaxContentPerMonth int        `gorm:"column:max_content_per_month;not null" json:"max_content_per_month"`
	Timezone           string     `gorm:"column:timezone" json:"timezone,omitempty"`

	// LegacyDomains is the pre-migration shape: a bare JSON array of domain
	// strings on the license row. It cannot express per-domain lifecycle and
	// exists only to be drained into domain_slots rows.
	LegacyDomains datatypes.JSON `gorm:"column:legacy_domains" json:"-"`
}

// PastExpiry reports whether the license's expiry timestamp has passed.
// It says nothing about the persisted status; ApplyLifecycle reconciles that.
func (l *License) PastExpiry(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Location resolves the license's configured timezone, defaulting to UTC.
func (l *License) Location() *time.Location {
	if l.Timezone != "" {
		if loc, err := time.LoadLocation(l.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

package domain

import "time"

type SlotStatus string

var (
	SlotActive   SlotStatus = "active"
	SlotInactive SlotStatus = "inactive"
)

func (s SlotStatus) String() string {
	switch s {
	case SlotActive, SlotInactive:
		return string(s)
	default:
		return ""
	}
}

// Binding is the answer to "what does this license know about this domain".
type Binding string

const (
	BindingNotFound Binding = "not_found"
	BindingActive   Binding = "active"
	BindingInactive Binding = "inactive"
)

// DomainSlot is one (license, domain) binding. Slots are never deleted while
// the license lives; deactivation flips status and stamps deactivated_at so
// the activation history survives as an audit trail.
type DomainSlot struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
	LicenseID     string     `gorm:"column:license_id;not null;uniqueIndex:uk_license_domain,priority:1" json:"license_id"`
	Domain        string     `gorm:"column:domain;not null;uniqueIndex:uk_license_domain,priority:2" json:"domain"`
	Status        SlotStatus `gorm:"column:status;not null" json:"status"`
	ActivatedAt   time.Time  `gorm:"column:activated_at" json:"activated_at"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`

	// VerificationCode is the TXT record value for optional DNS ownership
	// verification. Assigned at first activation.
	VerificationCode *string `gorm:"column:verification_code" json:"verification_code,omitempty"`
}

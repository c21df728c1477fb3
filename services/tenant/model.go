package tenant

import "time"

type Status string

var (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type Tenant struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
	Code        string    `gorm:"column:code;uniqueIndex" json:"code"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Slug        string    `gorm:"column:slug;uniqueIndex" json:"slug"`
	Type        string    `gorm:"column:type" json:"type,omitempty"`
	CountryCode string    `gorm:"column:country_code" json:"country_code,omitempty"`
	Timezone    string    `gorm:"column:timezone" json:"timezone,omitempty"`
	Status      Status    `gorm:"column:status;not null" json:"status"`
}

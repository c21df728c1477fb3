package usage

import "time"

// GenerationEvent is one billable content generation, recorded by the
// content-generation collaborator after the artifact is produced.
type GenerationEvent struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
	TenantID  string    `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Domain    string    `gorm:"column:domain;not null" json:"domain"`
	Kind      string    `gorm:"column:kind" json:"kind,omitempty"`
}

package apikey

import (
	"time"

	"github.com/lib/pq"
)

type Status string

var (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// APIKey authenticates admin API callers. The secret is returned exactly once
// at creation; only the argon2id hash is stored.
type APIKey struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at" json:"updated_at"`
	TenantID   string         `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name       string         `gorm:"column:name" json:"name"`
	KeyID      string         `gorm:"column:key_id;uniqueIndex" json:"key_id"`
	SecretHash string         `gorm:"column:secret_hash;not null" json:"-"`
	Scopes     pq.StringArray `gorm:"column:scopes;type:text" json:"scopes"`
	Status     Status         `gorm:"column:status;not null" json:"status"`
	ExpiresAt  *time.Time     `gorm:"column:expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time     `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

package apikey

import (
	"context"
	"errors"
	"strings"
	"time"

	"contentplane/pkg/errutil"
	"contentplane/pkg/repository"
	"contentplane/pkg/security"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const keyIDPrefix = "cpak_live_"

// ErrUnauthorized covers every verification failure. Callers get one error
// for wrong key, wrong secret, revoked and expired alike.
var ErrUnauthorized = errors.New("api key unauthorized")

var Module = fx.Module("apikey.module",
	fx.Provide(NewService),
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[APIKey]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[APIKey](p.DB),
	}
}

type CreateInput struct {
	TenantID  string
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
}

// Create mints an API key and returns the plaintext secret alongside it.
// The secret is not recoverable afterwards.
func (s *Service) Create(ctx context.Context, in CreateInput) (*APIKey, string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, "", errutil.BadRequest("name is required")
	}

	secret, err := security.GenerateBase64Secret(32)
	if err != nil {
		return nil, "", errutil.Internal("failed to generate secret", errutil.WithErr(err))
	}

	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, "", errutil.Internal("failed to hash secret", errutil.WithErr(err))
	}

	now := time.Now()
	key := &APIKey{
		ID:         s.node.Generate().String(),
		CreatedAt:  now,
		UpdatedAt:  now,
		TenantID:   in.TenantID,
		Name:       in.Name,
		KeyID:      keyIDPrefix + s.node.Generate().String(),
		SecretHash: hash,
		Scopes:     in.Scopes,
		Status:     StatusActive,
		ExpiresAt:  in.ExpiresAt,
	}

	if err := s.repo.Create(ctx, key); err != nil {
		return nil, "", err
	}

	zap.L().Info("api key created",
		zap.String("key_id", key.KeyID),
		zap.String("tenant_id", key.TenantID),
	)

	return key, secret, nil
}

// Verify authenticates a key_id/secret pair. Returns ErrUnauthorized on any
// mismatch; store failures surface as-is.
func (s *Service) Verify(ctx context.Context, keyID, secret string) (*APIKey, error) {
	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return nil, err
	}
	if key == nil || key.Status != StatusActive || key.Expired(time.Now()) {
		return nil, ErrUnauthorized
	}

	ok, err := security.VerifyArgon2(secret, key.SecretHash)
	if err != nil || !ok {
		return nil, ErrUnauthorized
	}

	now := time.Now()
	if err := s.repo.Update(ctx, key.ID, map[string]any{"last_used_at": now}); err != nil {
		zap.L().Warn("failed to stamp api key usage", zap.String("key_id", keyID), zap.Error(err))
	}
	key.LastUsedAt = &now

	return key, nil
}

// Revoke disables a key permanently.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return err
	}
	if key == nil {
		return errutil.NotFound("api key not found")
	}

	return s.repo.Update(ctx, key.ID, map[string]any{
		"status":     StatusRevoked,
		"updated_at": time.Now(),
	})
}

package tenant

import (
	"context"
	"strings"
	"time"

	"contentplane/pkg/db/option"
	"contentplane/pkg/errutil"
	"contentplane/pkg/repository"
	"contentplane/pkg/sequence"
	"contentplane/services/license"
	"contentplane/services/plan"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	keys license.KeyGenerator
	repo repository.Repository[Tenant]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator `optional:"true"`
	Keys license.KeyGenerator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,
		keys: p.Keys,
		repo: repository.ProvideStore[Tenant](p.DB),
	}
}

type CreateInput struct {
	Name        string
	Type        string
	CountryCode string
	Timezone    string
}

// Create registers a tenant and issues its default free license in the same
// transaction. Every tenant always holds at least one license, so the
// entitlement engine never has to special-case license-less tenants.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Tenant, *license.License, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if strings.TrimSpace(in.Name) == "" {
		return nil, nil, errutil.BadRequest("name is required")
	}

	code := ""
	if s.seq != nil {
		c, err := s.seq.NextTenantCode(ctx)
		if err != nil {
			zapLog.Error("failed to allocate tenant code", zap.Error(err))
			return nil, nil, errutil.Internal("failed to allocate tenant code", errutil.WithErr(err))
		}
		code = c
	}

	now := time.Now()
	t := &Tenant{
		ID:          s.node.Generate().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Code:        code,
		Name:        in.Name,
		Slug:        slug.Make(in.Name),
		Type:        in.Type,
		CountryCode: in.CountryCode,
		Timezone:    in.Timezone,
		Status:      StatusActive,
	}

	key, err := s.keys.Generate(plan.Free)
	if err != nil {
		return nil, nil, errutil.Internal("failed to generate license key", errutil.WithErr(err))
	}

	defaults := plan.DefaultLimits(plan.Free)
	lic := &license.License{
		ID:                 s.node.Generate().String(),
		CreatedAt:          now,
		UpdatedAt:          now,
		TenantID:           t.ID,
		LicenseKey:         key,
		Plan:               plan.Free,
		Status:             license.Pending,
		MaxDomains:         defaults.MaxDomains,
		MaxContentPerMonth: defaults.MaxContentPerMonth,
		Timezone:           in.Timezone,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(lic).Error
	})
	if err != nil {
		zapLog.Error("failed to create tenant", zap.Error(err), zap.String("name", in.Name))
		return nil, nil, err
	}

	zapLog.Info("tenant created",
		zap.String("tenant_id", t.ID),
		zap.String("code", t.Code),
		zap.String("license_id", lic.ID),
	)

	return t, lic, nil
}

// Get returns a tenant by ID, or (nil, nil) when absent.
func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.FindOne(ctx, &Tenant{ID: id})
}

// GetBySlug returns a tenant by slug, or (nil, nil) when absent.
func (s *Service) GetBySlug(ctx context.Context, sl string) (*Tenant, error) {
	return s.repo.FindOne(ctx, &Tenant{Slug: slug.Make(sl)})
}

// List pages through tenants.
func (s *Service) List(ctx context.Context, opts ...option.QueryOption) ([]*Tenant, error) {
	return s.repo.Find(ctx, &Tenant{}, opts...)
}

package license

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"contentplane/pkg/errutil"
	"contentplane/pkg/repository"
	"contentplane/services/plan"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SlotPurger removes every domain slot bound to a license. It is implemented
// by the domain registry and injected here so license deletion can cascade
// without the two services importing each other.
type SlotPurger interface {
	PurgeLicense(ctx context.Context, tx *gorm.DB, licenseID string) error
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	keys   KeyGenerator
	repo   repository.Repository[License]
	purger SlotPurger
	tasks  *asynq.Client
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Keys   KeyGenerator
	Purger SlotPurger    `optional:"true"`
	Tasks  *asynq.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		keys:   p.Keys,
		repo:   repository.ProvideStore[License](p.DB),
		purger: p.Purger,
		tasks:  p.Tasks,
	}
}

type CreateInput struct {
	TenantID string
	Plan     plan.Plan
	// Zero values mean "use the plan default".
	MaxDomains         int
	MaxContentPerMonth int
	ExpiresAt          *time.Time
	Timezone           string
}

// Create issues a new license. Status starts at pending: no entitlement
// exists until the first domain is bound through the engine.
func (s *Service) Create(ctx context.Context, in CreateInput) (*License, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if strings.TrimSpace(in.TenantID) == "" {
		return nil, errutil.BadRequest("tenant_id is required")
	}

	if !in.Plan.Valid() {
		return nil, errutil.BadRequest("unknown plan")
	}

	defaults := plan.DefaultLimits(in.Plan)
	if in.MaxDomains <= 0 {
		in.MaxDomains = defaults.MaxDomains
	}
	if in.MaxContentPerMonth <= 0 {
		in.MaxContentPerMonth = defaults.MaxContentPerMonth
	}

	key, err := s.keys.Generate(in.Plan)
	if err != nil {
		zapLog.Error("failed to generate license key", zap.Error(err))
		return nil, errutil.Internal("failed to generate license key", errutil.WithErr(err))
	}

	now := time.Now()
	lic := &License{
		ID:                 s.node.Generate().String(),
		CreatedAt:          now,
		UpdatedAt:          now,
		TenantID:           in.TenantID,
		LicenseKey:         key,
		Plan:               in.Plan,
		Status:             Pending,
		ExpiresAt:          in.ExpiresAt,
		MaxDomains:         in.MaxDomains,
		MaxContentPerMonth: in.MaxContentPerMonth,
		Timezone:           in.Timezone,
	}

	if err := s.repo.Create(ctx, lic); err != nil {
		zapLog.Error("failed to create license", zap.Error(err), zap.String("tenant_id", in.TenantID))
		return nil, err
	}

	zapLog.Info("license created",
		zap.String("license_id", lic.ID),
		zap.String("tenant_id", lic.TenantID),
		zap.String("plan", lic.Plan.String()),
	)

	// A dated license gets a one-shot sweep at its expiry so it converges
	// even if nothing ever reads it again. Best effort; the recurring sweep
	// and the lazy read-time transition both cover a lost enqueue.
	if lic.ExpiresAt != nil && s.tasks != nil {
		payload, _ := json.Marshal(ExpirySweepPayload{Before: lic.ExpiresAt.Add(time.Second)})
		_, err := s.tasks.EnqueueContext(ctx,
			asynq.NewTask(ExpirySweepTask, payload),
			asynq.ProcessAt(lic.ExpiresAt.Add(time.Second)),
			asynq.Queue("low"),
		)
		if err != nil {
			zapLog.Warn("failed to schedule expiry sweep", zap.Error(err), zap.String("license_id", lic.ID))
		}
	}

	return lic, nil
}

// FindByKey looks a license up by its exact key. Returns (nil, nil) when no
// such license exists.
func (s *Service) FindByKey(ctx context.Context, key string) (*License, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	return s.repo.FindOne(ctx, &License{LicenseKey: key})
}

// ApplyLifecycle performs the lazy expiry transition: a license past its
// expiry that still reads active or pending is persisted as expired before
// any authorization decision is made. Safe and idempotent on every read; the
// guarded UPDATE ensures the transition fires exactly once even under
// concurrent reads.
func (s *Service) ApplyLifecycle(ctx context.Context, lic *License) (*License, error) {
	now := time.Now()
	if lic == nil || !lic.PastExpiry(now) || lic.Status.Terminal() {
		return lic, nil
	}

	res := s.db.WithContext(ctx).Model(&License{}).
		Where("id = ? AND status IN ?", lic.ID, []Status{Pending, Active}).
		Updates(map[string]any{
			"status":     Expired,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected > 0 {
		zap.L().Info("license lazily expired",
			zap.String("license_id", lic.ID),
			zap.Timep("expires_at", lic.ExpiresAt),
		)
	}

	lic.Status = Expired
	lic.UpdatedAt = now
	return lic, nil
}

// MarkActive flips a pending license to active. Called by the entitlement
// engine on the first successful domain activation, never from validation
// paths.
func (s *Service) MarkActive(ctx context.Context, lic *License) error {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("id = ? AND status = ?", lic.ID, Pending).
		Updates(map[string]any{
			"status":     Active,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		lic.Status = Active
		zap.L().Info("license activated", zap.String("license_id", lic.ID))
	}
	return nil
}

// UpdateStatus is an administrative status edit with no quota side effects.
func (s *Service) UpdateStatus(ctx context.Context, key string, status Status) (*License, error) {
	if status.String() == "" {
		return nil, errutil.BadRequest("unknown status")
	}

	lic, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found")
	}

	if err := s.repo.Update(ctx, lic.ID, map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}); err != nil {
		return nil, err
	}

	lic.Status = status
	return lic, nil
}

// UpdateLimits is an administrative limit override with no quota side
// effects; existing bindings above a lowered limit stay bound.
func (s *Service) UpdateLimits(ctx context.Context, key string, maxDomains, maxContentPerMonth int) (*License, error) {
	if maxDomains <= 0 || maxContentPerMonth <= 0 {
		return nil, errutil.BadRequest("limits must be positive")
	}

	lic, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found")
	}

	if err := s.repo.Update(ctx, lic.ID, map[string]any{
		"max_domains":           maxDomains,
		"max_content_per_month": maxContentPerMonth,
		"updated_at":            time.Now(),
	}); err != nil {
		return nil, err
	}

	lic.MaxDomains = maxDomains
	lic.MaxContentPerMonth = maxContentPerMonth
	return lic, nil
}

// Delete removes a license and cascades to its domain slots in one
// transaction, so no binding can outlive its license.
func (s *Service) Delete(ctx context.Context, key string) error {
	lic, err := s.FindByKey(ctx, key)
	if err != nil {
		return err
	}
	if lic == nil {
		return errutil.NotFound("license not found")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.purger != nil {
			if err := s.purger.PurgeLicense(ctx, tx, lic.ID); err != nil {
				return err
			}
		}
		return tx.Delete(&License{}, "id = ?", lic.ID).Error
	})
}

// SweepExpired bulk-expires overdue licenses. Hygiene complement to the lazy
// read-time transition; rows untouched by any authorize call still converge.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status IN ?", now, []Status{Pending, Active}).
		Updates(map[string]any{
			"status":     Expired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

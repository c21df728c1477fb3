package entitlement

import (
	"context"
	"errors"
	"time"

	"contentplane/pkg/errutil"
	"contentplane/services/domain"
	"contentplane/services/license"
	"contentplane/services/plan"
	"contentplane/services/usage"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Operation is what the caller wants to do under a license.
type Operation string

const (
	OpValidate        Operation = "validate"
	OpActivate        Operation = "activate"
	OpDeactivate      Operation = "deactivate"
	OpGenerateContent Operation = "generate_content"
)

func (o Operation) Valid() bool {
	switch o {
	case OpValidate, OpActivate, OpDeactivate, OpGenerateContent:
		return true
	}
	return false
}

// DenialReason classifies why an operation was rejected. Rejections are
// decision values, not errors; errors out of Authorize mean the store itself
// failed.
type DenialReason string

const (
	DenyInvalidKey          DenialReason = "invalid_key"
	DenyLicenseNotActive    DenialReason = "license_not_active"
	DenyQuotaExceeded       DenialReason = "quota_exceeded"
	DenyDomainNotRegistered DenialReason = "domain_not_registered"
)

// QuotaKind tells which quota a quota_exceeded denial refers to.
type QuotaKind string

const (
	QuotaSlots   QuotaKind = "domain_slots"
	QuotaMonthly QuotaKind = "monthly_content"
)

type Denial struct {
	Reason  DenialReason `json:"reason"`
	Quota   QuotaKind    `json:"quota,omitempty"`
	Message string       `json:"message"`
}

// LicenseInfo is the snapshot of license state included in a decision. The
// denial paths for an unknown key return no snapshot at all, so probing keys
// leaks nothing.
type LicenseInfo struct {
	LicenseKey         string         `json:"license_key"`
	Plan               plan.Plan      `json:"plan"`
	Status             license.Status `json:"status"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	MaxDomains         int            `json:"max_domains"`
	MaxContentPerMonth int            `json:"max_content_per_month"`
}

type UsageInfo struct {
	MonthlyUsed  int64 `json:"monthly_used"`
	MonthlyLimit int   `json:"monthly_limit"`
}

// Decision is the single answer type for every authorize call. Allowed
// decisions always carry the license snapshot and capability set; usage is
// attached where the operation consumes or reports it.
type Decision struct {
	Allowed      bool              `json:"allowed"`
	Operation    Operation         `json:"operation"`
	Domain       string            `json:"domain,omitempty"`
	Denial       *Denial           `json:"denial,omitempty"`
	License      *LicenseInfo      `json:"license,omitempty"`
	Capabilities []plan.Capability `json:"capabilities,omitempty"`
	Usage        *UsageInfo        `json:"usage,omitempty"`
}

type AuthorizeRequest struct {
	LicenseKey string    `json:"license_key"`
	Domain     string    `json:"domain"`
	Operation  Operation `json:"operation"`
}

var Module = fx.Module("entitlement.module",
	fx.Provide(NewEngine),
)

// Engine is the single entry point for entitlement questions. It never does
// network I/O: every input to a decision comes from the store, so latency is
// bounded by one read path plus at most one lifecycle write.
type Engine struct {
	licenses *license.Service
	registry *domain.Registry
	counter  *usage.Counter
}

type EngineParams struct {
	fx.In
	Licenses *license.Service
	Registry *domain.Registry
	Counter  *usage.Counter
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		licenses: p.Licenses,
		registry: p.Registry,
		counter:  p.Counter,
	}
}

func deny(req AuthorizeRequest, reason DenialReason, quota QuotaKind, msg string) *Decision {
	return &Decision{
		Allowed:   false,
		Operation: req.Operation,
		Domain:    domain.NormalizeHost(req.Domain),
		Denial: &Denial{
			Reason:  reason,
			Quota:   quota,
			Message: msg,
		},
	}
}

// Authorize evaluates one operation against one license and domain and
// returns a decision. The evaluation order is fixed: key lookup, lazy
// lifecycle, domain binding, then usage. The first failing gate wins, so a
// caller with an expired key learns about the expiry, not about quotas.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*Decision, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("operation", string(req.Operation)),
		zap.String("domain", req.Domain),
	)

	if !req.Operation.Valid() {
		return nil, errutil.BadRequest("unknown operation")
	}

	// The domain is optional for validate and generate_content. A plugin that
	// only holds a key still gets a full lifecycle and usage answer; only the
	// slot mutations need a concrete host to act on.
	host := domain.NormalizeHost(req.Domain)
	if host == "" && (req.Operation == OpActivate || req.Operation == OpDeactivate) {
		return nil, errutil.BadRequest("domain is required")
	}

	lic, err := e.licenses.FindByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, errutil.ServiceUnavailable("license lookup failed", errutil.WithErr(err))
	}
	if lic == nil {
		zapLog.Info("authorize rejected, unknown license key")
		return deny(req, DenyInvalidKey, "", "license key not found"), nil
	}

	zapLog = zapLog.With(zap.String("license_id", lic.ID))

	if len(lic.LegacyDomains) > 0 {
		if _, err := e.registry.MigrateLegacyDomains(ctx, lic); err != nil {
			return nil, errutil.ServiceUnavailable("legacy domain migration failed", errutil.WithErr(err))
		}
	}

	lic, err = e.licenses.ApplyLifecycle(ctx, lic)
	if err != nil {
		return nil, errutil.ServiceUnavailable("license lifecycle update failed", errutil.WithErr(err))
	}

	if lic.Status.Terminal() {
		zapLog.Info("authorize rejected, license not active", zap.String("status", lic.Status.String()))
		return deny(req, DenyLicenseNotActive, "", "license is "+lic.Status.String()), nil
	}

	if host == "" {
		// No domain means no activation path, so a pending license stays
		// unentitled until something binds a domain.
		if lic.Status == license.Pending {
			zapLog.Info("authorize rejected, license not active", zap.String("status", lic.Status.String()))
			return deny(req, DenyLicenseNotActive, "", "license is "+lic.Status.String()), nil
		}
	} else {
		decision, err := e.resolveDomain(ctx, req, lic)
		if err != nil {
			return nil, err
		}
		if decision != nil {
			zapLog.Info("authorize rejected", zap.String("reason", string(decision.Denial.Reason)))
			return decision, nil
		}
	}

	out := &Decision{
		Allowed:   true,
		Operation: req.Operation,
		Domain:    host,
		License: &LicenseInfo{
			LicenseKey:         lic.LicenseKey,
			Plan:               lic.Plan,
			Status:             lic.Status,
			ExpiresAt:          lic.ExpiresAt,
			MaxDomains:         lic.MaxDomains,
			MaxContentPerMonth: lic.MaxContentPerMonth,
		},
		Capabilities: plan.Capabilities(lic.Plan),
	}

	if req.Operation == OpValidate || req.Operation == OpGenerateContent {
		used, err := e.counter.MonthlyContentCount(ctx, lic)
		if err != nil {
			return nil, errutil.ServiceUnavailable("usage count failed", errutil.WithErr(err))
		}
		out.Usage = &UsageInfo{MonthlyUsed: used, MonthlyLimit: lic.MaxContentPerMonth}

		if req.Operation == OpGenerateContent && used >= int64(lic.MaxContentPerMonth) {
			d := deny(req, DenyQuotaExceeded, QuotaMonthly, "monthly content limit reached")
			d.Usage = out.Usage
			zapLog.Info("authorize rejected, monthly limit reached",
				zap.Int64("used", used),
				zap.Int("limit", lic.MaxContentPerMonth),
			)
			return d, nil
		}
	}

	return out, nil
}

// resolveDomain settles the domain gate for the operation. A nil decision
// with nil error means the gate passed and the license is now active.
func (e *Engine) resolveDomain(ctx context.Context, req AuthorizeRequest, lic *license.License) (*Decision, error) {
	switch req.Operation {
	case OpDeactivate:
		err := e.registry.Deactivate(ctx, lic, req.Domain)
		if errors.Is(err, domain.ErrSlotNotFound) {
			return deny(req, DenyDomainNotRegistered, "", "domain has no active slot under this license"), nil
		}
		if err != nil {
			return nil, errutil.ServiceUnavailable("domain deactivation failed", errutil.WithErr(err))
		}
		return nil, nil

	case OpActivate:
		return e.activate(ctx, req, lic)

	default: // OpValidate, OpGenerateContent
		binding, err := e.registry.Status(ctx, lic.ID, req.Domain)
		if err != nil {
			return nil, errutil.ServiceUnavailable("domain lookup failed", errutil.WithErr(err))
		}

		switch binding {
		case domain.BindingActive:
			return nil, nil
		case domain.BindingNotFound:
			// First sighting of this domain binds it automatically; a
			// caller never has to make a separate activation call before
			// validating or generating.
			return e.activate(ctx, req, lic)
		default:
			// Explicitly deactivated domains stay off until an explicit
			// activate call brings them back.
			return deny(req, DenyDomainNotRegistered, "", "domain was deactivated under this license"), nil
		}
	}
}

func (e *Engine) activate(ctx context.Context, req AuthorizeRequest, lic *license.License) (*Decision, error) {
	_, err := e.registry.Activate(ctx, lic, req.Domain)
	if errors.Is(err, domain.ErrQuotaExceeded) {
		return deny(req, DenyQuotaExceeded, QuotaSlots, "domain slot limit reached"), nil
	}
	if err != nil {
		return nil, errutil.ServiceUnavailable("domain activation failed", errutil.WithErr(err))
	}

	if lic.Status == license.Pending {
		if err := e.licenses.MarkActive(ctx, lic); err != nil {
			return nil, errutil.ServiceUnavailable("license activation failed", errutil.WithErr(err))
		}
	}
	return nil, nil
}

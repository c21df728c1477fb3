package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"contentplane/pkg/config"
	"contentplane/pkg/db/option"
	"contentplane/pkg/dns"
	"contentplane/pkg/repository"
	"contentplane/pkg/util"
	"contentplane/services/license"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrQuotaExceeded means the license has no free domain slot.
	ErrQuotaExceeded = errors.New("domain slot quota exceeded")
	// ErrSlotNotFound means no binding exists (or it is already inactive)
	// for an operation that requires one.
	ErrSlotNotFound = errors.New("domain slot not found")
	// ErrOwnershipUnverified means mandatory DNS verification failed for a
	// reactivation.
	ErrOwnershipUnverified = errors.New("domain ownership not verified")
)

type Registry struct {
	db              *gorm.DB
	node            *snowflake.Node
	repo            repository.Repository[DomainSlot]
	verifier        *dns.Verifier
	verifyOwnership bool
}

type RegistryParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Verifier *dns.Verifier  `optional:"true"`
	Config   *config.Config `optional:"true"`
}

func NewRegistry(p RegistryParams) *Registry {
	verifier := p.Verifier
	if verifier == nil {
		verifier = dns.NewVerifier()
	}
	verifyOwnership := false
	if p.Config != nil {
		verifyOwnership = p.Config.Entitlement.VerifyOwnership
	}
	return &Registry{
		db:              p.DB,
		node:            p.Node,
		repo:            repository.ProvideStore[DomainSlot](p.DB),
		verifier:        verifier,
		verifyOwnership: verifyOwnership,
	}
}

// NormalizeHost lowercases the host and strips whitespace and the trailing
// dot. Every lookup and write goes through it so "A.com." and "a.com" land
// on the same slot row.
func NormalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// Status reports the binding state of a domain under a license.
func (r *Registry) Status(ctx context.Context, licenseID, host string) (Binding, error) {
	slot, err := r.repo.FindOne(ctx, &DomainSlot{LicenseID: licenseID, Domain: NormalizeHost(host)})
	if err != nil {
		return BindingNotFound, err
	}
	if slot == nil {
		return BindingNotFound, nil
	}
	if slot.Status == SlotActive {
		return BindingActive, nil
	}
	return BindingInactive, nil
}

// ActiveCount returns how many slots are currently active for a license.
func (r *Registry) ActiveCount(ctx context.Context, licenseID string) (int64, error) {
	return r.repo.Count(ctx, &DomainSlot{LicenseID: licenseID, Status: SlotActive})
}

// List returns every slot bound to a license, active or not.
func (r *Registry) List(ctx context.Context, licenseID string, opts ...option.QueryOption) ([]*DomainSlot, error) {
	return r.repo.Find(ctx, &DomainSlot{LicenseID: licenseID}, opts...)
}

// Activate binds a domain to a license, taking one slot. The whole
// check-and-mutate sequence runs in a single transaction holding a row lock
// on the license, so two concurrent activations can never both observe a free
// slot and overshoot the limit.
//
// Three cases:
//  1. slot exists and is active: idempotent no-op.
//  2. slot exists and is inactive: reactivation. Still re-checks the limit,
//     because other domains may have been activated since this one went
//     inactive.
//  3. no slot: fresh binding, counted against the limit.
func (r *Registry) Activate(ctx context.Context, lic *license.License, host string) (*DomainSlot, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("license_id", lic.ID),
		zap.String("domain", host),
	)

	host = NormalizeHost(host)
	if host == "" {
		return nil, errors.New("domain is required")
	}

	// When mandatory verification is on, a reactivation must prove ownership
	// through the TXT code minted at first binding. The DNS round trip runs
	// before the transaction so no lock is held during network I/O. Fresh
	// bindings mint their code here, so there is nothing to check yet.
	if r.verifyOwnership {
		existing, err := r.repo.FindOne(ctx, &DomainSlot{LicenseID: lic.ID, Domain: host})
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status != SlotActive && existing.VerificationCode != nil {
			if err := r.verifier.VerifyTXT(host, *existing.VerificationCode); err != nil {
				zapLog.Warn("domain reactivation rejected, ownership unverified", zap.Error(err))
				return nil, ErrOwnershipUnverified
			}
		}
	}

	var out *DomainSlot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialise slot accounting per license.
		var locked license.License
		if err := option.ForUpdate()(tx).
			Where("id = ?", lic.ID).
			First(&locked).Error; err != nil {
			return err
		}

		var slot DomainSlot
		err := tx.Where("license_id = ? AND domain = ?", lic.ID, host).First(&slot).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if exists && slot.Status == SlotActive {
			out = &slot
			return nil
		}

		var active int64
		if err := tx.Model(&DomainSlot{}).
			Where("license_id = ? AND status = ?", lic.ID, SlotActive).
			Count(&active).Error; err != nil {
			return err
		}

		if active >= int64(locked.MaxDomains) {
			return ErrQuotaExceeded
		}

		now := time.Now()
		if exists {
			// Reactivation: the flip adds exactly one active slot.
			if err := tx.Model(&slot).Updates(map[string]any{
				"status":         SlotActive,
				"activated_at":   now,
				"deactivated_at": nil,
				"updated_at":     now,
			}).Error; err != nil {
				return err
			}
			slot.Status = SlotActive
			slot.ActivatedAt = now
			slot.DeactivatedAt = nil
			out = &slot
			return nil
		}

		code := util.GenerateVerificationCode()
		fresh := DomainSlot{
			ID:               r.node.Generate().String(),
			CreatedAt:        now,
			UpdatedAt:        now,
			LicenseID:        lic.ID,
			Domain:           host,
			Status:           SlotActive,
			ActivatedAt:      now,
			VerificationCode: &code,
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return err
		}
		out = &fresh
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			zapLog.Warn("domain activation rejected, slot quota exceeded")
		} else {
			zapLog.Error("domain activation failed", zap.Error(err))
		}
		return nil, err
	}

	zapLog.Info("domain slot active", zap.String("slot_id", out.ID))
	return out, nil
}

// Deactivate flips a slot to inactive, freeing its capacity immediately.
// The slot row stays behind for the audit trail.
func (r *Registry) Deactivate(ctx context.Context, lic *license.License, host string) error {
	host = NormalizeHost(host)
	now := time.Now()

	res := r.db.WithContext(ctx).Model(&DomainSlot{}).
		Where("license_id = ? AND domain = ? AND status = ?", lic.ID, host, SlotActive).
		Updates(map[string]any{
			"status":         SlotInactive,
			"deactivated_at": now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSlotNotFound
	}

	zap.L().Info("domain slot deactivated",
		zap.String("license_id", lic.ID),
		zap.String("domain", host),
	)
	return nil
}

// PurgeLicense removes all slots for a license inside the caller's
// transaction. Only used by license deletion; everything else keeps slots.
func (r *Registry) PurgeLicense(ctx context.Context, tx *gorm.DB, licenseID string) error {
	return tx.WithContext(ctx).Where("license_id = ?", licenseID).Delete(&DomainSlot{}).Error
}

// VerifyOwnership checks the slot's TXT verification code against live DNS.
// Never called from the authorize path; the engine does no network I/O.
func (r *Registry) VerifyOwnership(ctx context.Context, licenseID, host string) error {
	slot, err := r.repo.FindOne(ctx, &DomainSlot{LicenseID: licenseID, Domain: NormalizeHost(host)})
	if err != nil {
		return err
	}
	if slot == nil || slot.VerificationCode == nil {
		return ErrSlotNotFound
	}
	return r.verifier.VerifyTXT(slot.Domain, *slot.VerificationCode)
}

// MigrateLegacyDomains drains the legacy JSON-array domain column into
// normalized slot rows. The first MaxDomains entries come up active, the
// rest inactive; entries that already have a slot row are skipped. Clears
// the legacy column afterwards so the migration is one-shot and idempotent.
// A pending license whose migration brings up at least one slot goes active
// in the same transaction; slots never run under a pending license.
func (r *Registry) MigrateLegacyDomains(ctx context.Context, lic *license.License) (int, error) {
	if len(lic.LegacyDomains) == 0 {
		return 0, nil
	}

	var legacy []string
	if err := json.Unmarshal(lic.LegacyDomains, &legacy); err != nil {
		return 0, err
	}

	migrated := 0
	activated := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked license.License
		if err := option.ForUpdate()(tx).
			Where("id = ?", lic.ID).
			First(&locked).Error; err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&DomainSlot{}).
			Where("license_id = ? AND status = ?", lic.ID, SlotActive).
			Count(&active).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, raw := range legacy {
			host := NormalizeHost(raw)
			if host == "" {
				continue
			}

			var existing int64
			if err := tx.Model(&DomainSlot{}).
				Where("license_id = ? AND domain = ?", lic.ID, host).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				continue
			}

			status := SlotActive
			var deactivatedAt *time.Time
			if active >= int64(locked.MaxDomains) {
				// Legacy rows could overshoot the limit; park the surplus.
				status = SlotInactive
				deactivatedAt = &now
			} else {
				active++
				activated++
			}

			code := util.GenerateVerificationCode()
			slot := DomainSlot{
				ID:               r.node.Generate().String(),
				CreatedAt:        now,
				UpdatedAt:        now,
				LicenseID:        lic.ID,
				Domain:           host,
				Status:           status,
				ActivatedAt:      now,
				DeactivatedAt:    deactivatedAt,
				VerificationCode: &code,
			}
			if err := tx.Create(&slot).Error; err != nil {
				return err
			}
			migrated++
		}

		updates := map[string]any{
			"legacy_domains": nil,
			"updated_at":     now,
		}
		if activated > 0 && locked.Status == license.Pending {
			updates["status"] = license.Active
		}
		if err := tx.Model(&license.License{}).
			Where("id = ?", lic.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		lic.LegacyDomains = nil
		if activated > 0 && locked.Status == license.Pending {
			lic.Status = license.Active
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if migrated > 0 {
		zap.L().Info("legacy domains migrated",
			zap.String("license_id", lic.ID),
			zap.Int("migrated", migrated),
		)
	}
	return migrated, nil
}

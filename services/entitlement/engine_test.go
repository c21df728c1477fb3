package entitlement

import (
	"context"
	"testing"
	"time"

	"contentplane/services/domain"
	"contentplane/services/license"
	"contentplane/services/plan"
	"contentplane/services/testutil"
	"contentplane/services/usage"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	engine   *Engine
	licenses *license.Service
	counter  *usage.Counter
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&license.License{},
		&domain.DomainSlot{},
		&usage.GenerationEvent{},
	)

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	licenses := license.NewService(license.ServiceParams{
		DB:   db,
		Node: node,
		Keys: license.NewKeyGenerator(),
	})
	registry := domain.NewRegistry(domain.RegistryParams{DB: db, Node: node})
	counter := usage.NewCounter(usage.CounterParams{DB: db, Node: node})

	return &fixture{
		engine: NewEngine(EngineParams{
			Licenses: licenses,
			Registry: registry,
			Counter:  counter,
		}),
		licenses: licenses,
		counter:  counter,
		db:       db,
	}
}

func (f *fixture) createLicense(t *testing.T, in license.CreateInput) *license.License {
	t.Helper()
	lic, err := f.licenses.Create(context.Background(), in)
	require.NoError(t, err)
	return lic
}

func TestAuthorizeUnknownKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, op := range []Operation{OpValidate, OpActivate, OpDeactivate, OpGenerateContent} {
		decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
			LicenseKey: "NOPE-0000-0000-0000-0000",
			Domain:     "a.com",
			Operation:  op,
		})
		require.NoError(t, err)
		require.False(t, decision.Allowed)
		require.Equal(t, DenyInvalidKey, decision.Denial.Reason)
		// Unknown keys learn nothing about any license.
		require.Nil(t, decision.License)
	}
}

func TestAuthorizeRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: "whatever",
		Domain:     "a.com",
		Operation:  Operation("reboot"),
	})
	require.Error(t, err)

	// Slot mutations need a concrete host to act on.
	for _, op := range []Operation{OpActivate, OpDeactivate} {
		_, err = f.engine.Authorize(ctx, AuthorizeRequest{
			LicenseKey: "whatever",
			Domain:     "   ",
			Operation:  op,
		})
		require.Error(t, err)
	}
}

func TestAuthorizeWithoutDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{
		TenantID:           "t1",
		Plan:               plan.Pro,
		MaxContentPerMonth: 2,
	})

	// Key-only checks against a pending license report it as not active;
	// nothing short of binding a domain entitles it.
	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Operation: OpValidate,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyLicenseNotActive, decision.Denial.Reason)

	_, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpActivate,
	})
	require.NoError(t, err)

	// Once active, a key-only validate answers with the full snapshot,
	// capabilities and usage, no domain required.
	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Operation: OpValidate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Empty(t, decision.Domain)
	require.Equal(t, license.Active, decision.License.Status)
	require.Contains(t, decision.Capabilities, plan.CapabilitySEOOptimization)
	require.NotNil(t, decision.Usage)

	// The monthly gate still applies to key-only generation.
	for i := 0; i < 2; i++ {
		_, err := f.counter.Record(ctx, "t1", "a.com", "article")
		require.NoError(t, err)
	}
	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Operation: OpGenerateContent,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyQuotaExceeded, decision.Denial.Reason)
	require.Equal(t, QuotaMonthly, decision.Denial.Quota)
}

func TestAuthorizeFirstUseActivatesPendingLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{TenantID: "t1", Plan: plan.Pro})
	require.Equal(t, license.Pending, lic.Status)

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey,
		Domain:     "Blog.Example.com",
		Operation:  OpValidate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, "blog.example.com", decision.Domain)
	require.Equal(t, plan.Pro, decision.License.Plan)
	require.Contains(t, decision.Capabilities, plan.CapabilitySEOOptimization)
	require.NotNil(t, decision.Usage)
	require.EqualValues(t, 0, decision.Usage.MonthlyUsed)

	// The pending license went active and the domain took a slot, both
	// persisted.
	stored, err := f.licenses.FindByKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, license.Active, stored.Status)
}

func TestAuthorizeSlotQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{
		TenantID:   "t1",
		Plan:       plan.Free,
		MaxDomains: 1,
	})

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey,
		Domain:     "a.com",
		Operation:  OpValidate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey,
		Domain:     "b.com",
		Operation:  OpValidate,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyQuotaExceeded, decision.Denial.Reason)
	require.Equal(t, QuotaSlots, decision.Denial.Quota)
}

func TestAuthorizeDeactivatedDomainStaysOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{TenantID: "t1", Plan: plan.Starter})

	_, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpActivate,
	})
	require.NoError(t, err)

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpDeactivate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Implicit binding does not resurrect a deactivated domain.
	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpValidate,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyDomainNotRegistered, decision.Denial.Reason)

	// An explicit activate does.
	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpActivate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestAuthorizeDeactivateUnboundDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{TenantID: "t1", Plan: plan.Free})

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "never.com", Operation: OpDeactivate,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyDomainNotRegistered, decision.Denial.Reason)
}

func TestAuthorizeMonthlyLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{
		TenantID:           "t1",
		Plan:               plan.Free,
		MaxContentPerMonth: 5,
	})

	_, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpActivate,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.counter.Record(ctx, "t1", "a.com", "article")
		require.NoError(t, err)
	}

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpGenerateContent,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyQuotaExceeded, decision.Denial.Reason)
	require.Equal(t, QuotaMonthly, decision.Denial.Quota)
	require.EqualValues(t, 5, decision.Usage.MonthlyUsed)

	// The soft limit gates generation only; validation still passes and
	// reports the exhausted budget.
	decision, err = f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpValidate,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.EqualValues(t, 5, decision.Usage.MonthlyUsed)
}

func TestAuthorizeMonthlyLimitResetsWithCalendarMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{
		TenantID:           "t1",
		Plan:               plan.Free,
		MaxContentPerMonth: 5,
	})

	_, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpActivate,
	})
	require.NoError(t, err)

	// A full budget spent two months ago does not count against this month.
	stale := time.Now().AddDate(0, -2, 0)
	for i := 0; i < 5; i++ {
		event := &usage.GenerationEvent{
			ID:        lic.ID + "-ev-" + string(rune('a'+i)),
			CreatedAt: stale,
			TenantID:  "t1",
			Domain:    "a.com",
			Kind:      "article",
		}
		require.NoError(t, f.db.Create(event).Error)
	}

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpGenerateContent,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.EqualValues(t, 0, decision.Usage.MonthlyUsed)
}

func TestAuthorizeLazyExpiryPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	lic := f.createLicense(t, license.CreateInput{
		TenantID:  "t1",
		Plan:      plan.Pro,
		ExpiresAt: &past,
	})

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpValidate,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyLicenseNotActive, decision.Denial.Reason)

	var stored license.License
	require.NoError(t, f.db.First(&stored, "id = ?", lic.ID).Error)
	require.Equal(t, license.Expired, stored.Status)
}

func TestAuthorizeCancelledLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{TenantID: "t1", Plan: plan.Agency})
	_, err := f.licenses.UpdateStatus(ctx, lic.LicenseKey, license.Cancelled)
	require.NoError(t, err)

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "a.com", Operation: OpGenerateContent,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, DenyLicenseNotActive, decision.Denial.Reason)
}

func TestAuthorizeMigratesLegacyDomains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.createLicense(t, license.CreateInput{TenantID: "t1", Plan: plan.Starter})
	require.NoError(t, f.db.Model(&license.License{}).
		Where("id = ?", lic.ID).
		Update("legacy_domains", []byte(`["legacy.com"]`)).Error)

	decision, err := f.engine.Authorize(ctx, AuthorizeRequest{
		LicenseKey: lic.LicenseKey, Domain: "legacy.com", Operation: OpGenerateContent,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	var rows int64
	require.NoError(t, f.db.Model(&domain.DomainSlot{}).
		Where("license_id = ?", lic.ID).
		Count(&rows).Error)
	require.EqualValues(t, 1, rows)

	// Migration brought a slot up, so the license left pending with it.
	stored, err := f.licenses.FindByKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, license.Active, stored.Status)
}

package license

import (
	"context"
	"regexp"
	"testing"
	"time"

	"contentplane/pkg/errutil"
	"contentplane/services/plan"
	"contentplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &License{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:   db,
		Node: node,
		Keys: NewKeyGenerator(),
	})
	return svc, db
}

func TestCreateUsesPlanDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	lic, err := svc.Create(context.Background(), CreateInput{
		TenantID: "t1",
		Plan:     plan.Pro,
	})
	require.NoError(t, err)

	require.Equal(t, Pending, lic.Status)
	require.Equal(t, 10, lic.MaxDomains)
	require.Equal(t, 200, lic.MaxContentPerMonth)
	require.Nil(t, lic.ExpiresAt)
	require.Regexp(t, regexp.MustCompile(`^PRO(-[A-HJ-NP-Z2-9]{4}){4}$`), lic.LicenseKey)
}

func TestCreateKeepsExplicitOverrides(t *testing.T) {
	svc, _ := newTestService(t)

	lic, err := svc.Create(context.Background(), CreateInput{
		TenantID:           "t1",
		Plan:               plan.Free,
		MaxDomains:         7,
		MaxContentPerMonth: 99,
	})
	require.NoError(t, err)
	require.Equal(t, 7, lic.MaxDomains)
	require.Equal(t, 99, lic.MaxContentPerMonth)
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateInput{
		TenantID: "t1",
		Plan:     plan.Plan("enterprise"),
	})
	require.Error(t, err)

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusBadRequest, base.Code)
}

func TestFindByKeyAbsentReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	lic, err := svc.FindByKey(context.Background(), "NOPE-0000-0000-0000-0000")
	require.NoError(t, err)
	require.Nil(t, lic)
}

func TestApplyLifecycleExpiresLazily(t *testing.T) {
	svc, db := newTestService(t)

	past := time.Now().Add(-time.Hour)
	lic, err := svc.Create(context.Background(), CreateInput{
		TenantID:  "t1",
		Plan:      plan.Starter,
		ExpiresAt: &past,
	})
	require.NoError(t, err)
	require.NoError(t, svc.db.Model(lic).Update("status", Active).Error)
	lic.Status = Active

	out, err := svc.ApplyLifecycle(context.Background(), lic)
	require.NoError(t, err)
	require.Equal(t, Expired, out.Status)

	var stored License
	require.NoError(t, db.First(&stored, "id = ?", lic.ID).Error)
	require.Equal(t, Expired, stored.Status)

	// Second pass is a no-op.
	out, err = svc.ApplyLifecycle(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, Expired, out.Status)
}

func TestApplyLifecycleLeavesUnexpiredAlone(t *testing.T) {
	svc, _ := newTestService(t)

	future := time.Now().Add(time.Hour)
	lic, err := svc.Create(context.Background(), CreateInput{
		TenantID:  "t1",
		Plan:      plan.Free,
		ExpiresAt: &future,
	})
	require.NoError(t, err)

	out, err := svc.ApplyLifecycle(context.Background(), lic)
	require.NoError(t, err)
	require.Equal(t, Pending, out.Status)
}

func TestMarkActiveOnlyFlipsPending(t *testing.T) {
	svc, db := newTestService(t)

	lic, err := svc.Create(context.Background(), CreateInput{TenantID: "t1", Plan: plan.Free})
	require.NoError(t, err)

	require.NoError(t, svc.MarkActive(context.Background(), lic))
	require.Equal(t, Active, lic.Status)

	// Already active: no further transition.
	require.NoError(t, svc.MarkActive(context.Background(), lic))

	var stored License
	require.NoError(t, db.First(&stored, "id = ?", lic.ID).Error)
	require.Equal(t, Active, stored.Status)
}

func TestUpdateStatusUnknownLicense(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateStatus(context.Background(), "MISSING-KEY", Cancelled)
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestUpdateLimitsRejectsNonPositive(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateLimits(context.Background(), "whatever", 0, 10)
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusBadRequest, base.Code)
}

type recordingPurger struct {
	purged []string
}

func (p *recordingPurger) PurgeLicense(ctx context.Context, tx *gorm.DB, licenseID string) error {
	p.purged = append(p.purged, licenseID)
	return nil
}

func TestDeleteCascadesThroughPurger(t *testing.T) {
	db := testutil.NewTestDB(t, &License{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	purger := &recordingPurger{}
	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Keys:   NewKeyGenerator(),
		Purger: purger,
	})

	lic, err := svc.Create(context.Background(), CreateInput{TenantID: "t1", Plan: plan.Free})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), lic.LicenseKey))
	require.Equal(t, []string{lic.ID}, purger.purged)

	gone, err := svc.FindByKey(context.Background(), lic.LicenseKey)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSweepExpired(t *testing.T) {
	svc, _ := newTestService(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	overdue, err := svc.Create(context.Background(), CreateInput{TenantID: "t1", Plan: plan.Free, ExpiresAt: &past})
	require.NoError(t, err)
	fresh, err := svc.Create(context.Background(), CreateInput{TenantID: "t1", Plan: plan.Free, ExpiresAt: &future})
	require.NoError(t, err)

	n, err := svc.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stored, err := svc.FindByKey(context.Background(), overdue.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, Expired, stored.Status)

	stored, err = svc.FindByKey(context.Background(), fresh.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, Pending, stored.Status)
}

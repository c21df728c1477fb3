package tenant

import (
	"context"
	"fmt"
	"testing"

	"contentplane/services/license"
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

type fakeSequence struct {
	n int
}

func (f *fakeSequence) NextTenantCode(ctx context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("T%03d", f.n), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Tenant{}, &license.License{})

	node, err := snowflake.NewNode(8)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:   db,
		Node: node,
		Seq:  &fakeSequence{},
		Keys: license.NewKeyGenerator(),
	})
	return svc, db
}

func TestCreateIssuesDefaultFreeLicense(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	tn, lic, err := svc.Create(ctx, CreateInput{Name: "Acme Media"})
	require.NoError(t, err)

	require.Equal(t, "T001", tn.Code)
	require.Equal(t, "acme-media", tn.Slug)
	require.Equal(t, StatusActive, tn.Status)

	require.Equal(t, tn.ID, lic.TenantID)
	require.Equal(t, plan.Free, lic.Plan)
	require.Equal(t, license.Pending, lic.Status)
	require.Equal(t, 1, lic.MaxDomains)
	require.Equal(t, 10, lic.MaxContentPerMonth)

	var stored license.License
	require.NoError(t, db.First(&stored, "tenant_id = ?", tn.ID).Error)
	require.Equal(t, lic.ID, stored.ID)
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Create(context.Background(), CreateInput{Name: "   "})
	require.Error(t, err)
}

func TestGetAbsentReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	tn, err := svc.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, tn)
}

func TestGetBySlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.Create(ctx, CreateInput{Name: "Acme Media"})
	require.NoError(t, err)

	got, err := svc.GetBySlug(ctx, "Acme Media")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestListTenants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, CreateInput{Name: "One"})
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, CreateInput{Name: "Two"})
	require.NoError(t, err)

	out, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

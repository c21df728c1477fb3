package apikey

import (
	"context"
	"strings"
	"testing"
	"time"

	"contentplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &APIKey{})

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	key, secret, err := svc.Create(ctx, CreateInput{
		TenantID: "t1",
		Name:     "ci",
		Scopes:   []string{"licenses:write"},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key.KeyID, "cpak_live_"))
	require.NotEmpty(t, secret)
	require.NotContains(t, key.SecretHash, secret)

	got, err := svc.Verify(ctx, key.KeyID, secret)
	require.NoError(t, err)
	require.Equal(t, key.ID, got.ID)
	require.NotNil(t, got.LastUsedAt)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	key, _, err := svc.Create(ctx, CreateInput{Name: "ci"})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, key.KeyID, "not-the-secret")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify(context.Background(), "cpak_live_missing", "whatever")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	key, secret, err := svc.Create(ctx, CreateInput{Name: "ci"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, key.KeyID))

	_, err = svc.Verify(ctx, key.KeyID, secret)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsExpiredKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	key, secret, err := svc.Create(ctx, CreateInput{Name: "ci", ExpiresAt: &past})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, key.KeyID, secret)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRevokeUnknownKey(t *testing.T) {
	svc := newTestService(t)
	require.Error(t, svc.Revoke(context.Background(), "cpak_live_missing"))
}

package usage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"contentplane/pkg/config"
	"contentplane/pkg/errutil"
	"contentplane/pkg/rediskey"
	"contentplane/pkg/repository"
	"contentplane/services/domain"
	"contentplane/services/license"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("usage.module",
	fx.Provide(NewCounter),
)

// Counter aggregates generation events into the monthly usage figure the
// entitlement engine compares against the license's monthly limit. It is
// read-only with respect to quotas: the "increment" is the collaborator
// recording an event, never a counter mutation here.
type Counter struct {
	db       *gorm.DB
	node     *snowflake.Node
	redis    *redis.Client
	cacheTTL time.Duration
	repo     repository.Repository[GenerationEvent]
}

type CounterParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Redis  *redis.Client  `optional:"true"`
	Config *config.Config `optional:"true"`
}

func NewCounter(p CounterParams) *Counter {
	ttl := 30 * time.Second
	if p.Config != nil && p.Config.Entitlement.UsageCacheTTL > 0 {
		ttl = p.Config.Entitlement.UsageCacheTTL
	}
	return &Counter{
		db:       p.DB,
		node:     p.Node,
		redis:    p.Redis,
		cacheTTL: ttl,
		repo:     repository.ProvideStore[GenerationEvent](p.DB),
	}
}

// Record persists one generation event and bumps the tenant's usage cache
// version, invalidating every cached count regardless of which timezone
// window it was computed for.
func (c *Counter) Record(ctx context.Context, tenantID, host, kind string) (*GenerationEvent, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(host) == "" {
		return nil, errutil.BadRequest("tenant_id and domain are required")
	}

	now := time.Now()
	event := &GenerationEvent{
		ID:        c.node.Generate().String(),
		CreatedAt: now,
		TenantID:  tenantID,
		Domain:    domain.NormalizeHost(host),
		Kind:      kind,
	}

	if err := c.repo.Create(ctx, event); err != nil {
		return nil, err
	}

	if c.redis != nil {
		key := rediskey.BuildUsageVersionKey(tenantID)
		if err := c.redis.Incr(ctx, key).Err(); err != nil {
			zap.L().Warn("failed to bust usage cache", zap.String("key", key), zap.Error(err))
		}
	}

	return event, nil
}

// MonthlyContentCount sums the tenant's generation events for the current
// calendar month in the license's timezone, restricted to domains that are
// currently active under the tenant's licenses. The figure is advisory: a
// short-TTL cache sits in front, and the check is not atomic with the write
// the collaborator performs afterwards.
func (c *Counter) MonthlyContentCount(ctx context.Context, lic *license.License) (int64, error) {
	loc := lic.Location()
	now := time.Now().In(loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	nextMonth := monthStart.AddDate(0, 1, 0)

	// The cache key folds in the tenant's version counter and the window
	// start instant. Record bumps the version, orphaning every prior entry;
	// licenses in different timezones never share an entry because their
	// windows start at different instants.
	cacheKey := ""
	if c.redis != nil {
		ver, err := c.redis.Get(ctx, rediskey.BuildUsageVersionKey(lic.TenantID)).Result()
		if err != nil {
			ver = "0"
		}
		cacheKey = rediskey.BuildMonthlyUsageKey(lic.TenantID,
			ver+":"+strconv.FormatInt(monthStart.Unix(), 10))
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
				return n, nil
			}
		}
	}

	activeDomains := c.db.Model(&domain.DomainSlot{}).
		Select("domain_slots.domain").
		Joins("JOIN licenses ON licenses.id = domain_slots.license_id").
		Where("licenses.tenant_id = ? AND domain_slots.status = ?", lic.TenantID, domain.SlotActive)

	var n int64
	if err := c.db.WithContext(ctx).Model(&GenerationEvent{}).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", lic.TenantID, monthStart, nextMonth).
		Where("domain IN (?)", activeDomains).
		Count(&n).Error; err != nil {
		return 0, err
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey, strconv.FormatInt(n, 10), c.cacheTTL).Err(); err != nil {
			zap.L().Warn("failed to cache usage count", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	return n, nil
}

package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"contentplane/pkg/config"
	"contentplane/pkg/health"
	"contentplane/pkg/middleware"
	"contentplane/services/apikey"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
	),
)

type RouterParams struct {
	fx.In
	Config  *config.Config
	Handler *Handler
	Health  health.HealthService
	APIKeys *apikey.Service
}

// ProvideRouter builds the gin engine with all routes mounted. Admin routes
// sit behind API key auth unless SECURITY.AUTH_DISABLED is set, which exists
// for local development only.
func ProvideRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	v1 := r.Group("/v1")

	// The authorize endpoint is the hot path the plugin calls; it carries its
	// own credential (the license key) and is not behind admin auth.
	v1.POST("/entitlements/authorize", p.Handler.Authorize)

	admin := v1.Group("")
	if !p.Config.Security.AuthDisabled {
		admin.Use(middleware.APIKeyAuth(func(ctx context.Context, keyID, secret string) error {
			_, err := p.APIKeys.Verify(ctx, keyID, secret)
			return err
		}))
	}

	admin.POST("/tenants", p.Handler.CreateTenant)
	admin.GET("/tenants", p.Handler.ListTenants)
	admin.GET("/tenants/:id", p.Handler.GetTenant)

	admin.POST("/licenses", p.Handler.CreateLicense)
	admin.GET("/licenses/:key", p.Handler.GetLicense)
	admin.PATCH("/licenses/:key/status", p.Handler.UpdateLicenseStatus)
	admin.PATCH("/licenses/:key/limits", p.Handler.UpdateLicenseLimits)
	admin.DELETE("/licenses/:key", p.Handler.DeleteLicense)

	admin.GET("/licenses/:key/domains", p.Handler.ListDomains)
	admin.POST("/licenses/:key/domains/:domain/activate", p.Handler.ActivateDomain)
	admin.POST("/licenses/:key/domains/:domain/deactivate", p.Handler.DeactivateDomain)
	admin.POST("/licenses/:key/domains/:domain/verify", p.Handler.VerifyDomain)

	admin.GET("/licenses/:key/usage", p.Handler.GetUsage)
	admin.POST("/usage/events", p.Handler.RecordUsage)

	admin.POST("/apikeys", p.Handler.CreateAPIKey)
	admin.DELETE("/apikeys/:key_id", p.Handler.RevokeAPIKey)

	return r
}

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"contentplane/pkg/db/option"
	"contentplane/pkg/db/pagination"
	"contentplane/pkg/errutil"
	"contentplane/services/apikey"
	"contentplane/services/domain"
	"contentplane/services/entitlement"
	"contentplane/services/license"
	"contentplane/services/plan"
	"contentplane/services/tenant"
	"contentplane/services/usage"
)

type Handler struct {
	engine   *entitlement.Engine
	licenses *license.Service
	registry *domain.Registry
	counter  *usage.Counter
	tenants  *tenant.Service
	apikeys  *apikey.Service
}

type HandlerParams struct {
	fx.In
	Engine   *entitlement.Engine
	Licenses *license.Service
	Registry *domain.Registry
	Counter  *usage.Counter
	Tenants  *tenant.Service
	APIKeys  *apikey.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		engine:   p.Engine,
		licenses: p.Licenses,
		registry: p.Registry,
		counter:  p.Counter,
		tenants:  p.Tenants,
		apikeys:  p.APIKeys,
	}
}

// Authorize is the hot path. Denials are 200s with allowed=false; only a
// malformed request or a store failure produces a non-200.
func (h *Handler) Authorize(c *gin.Context) {
	var req entitlement.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	decision, err := h.engine.Authorize(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

type createTenantRequest struct {
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type"`
	CountryCode string `json:"country_code"`
	Timezone    string `json:"timezone"`
}

func (h *Handler) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	t, lic, err := h.tenants.Create(c.Request.Context(), tenant.CreateInput{
		Name:        req.Name,
		Type:        req.Type,
		CountryCode: req.CountryCode,
		Timezone:    req.Timezone,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":  t,
		"license": lic,
	})
}

func (h *Handler) ListTenants(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", errutil.WithErr(err)))
		return
	}
	if page.Limit <= 0 {
		page.Limit = 10
	}

	// Over-fetch by one to learn whether another page exists.
	rows, err := h.tenants.List(c.Request.Context(), option.ApplyPagination(pagination.Pagination{
		Cursor: page.Cursor,
		Limit:  page.Limit + 1,
	}))
	if err != nil {
		c.Error(err)
		return
	}

	info := pagination.BuildCursorPageInfo(rows, page.Limit, func(t *tenant.Tenant) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return cursor
	})
	if len(rows) > page.Limit {
		rows = rows[:page.Limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants":   rows,
		"page_info": info,
	})
}

func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if t == nil {
		c.Error(errutil.NotFound("tenant not found"))
		return
	}
	c.JSON(http.StatusOK, t)
}

type createLicenseRequest struct {
	TenantID           string     `json:"tenant_id" binding:"required"`
	Plan               plan.Plan  `json:"plan" binding:"required"`
	MaxDomains         int        `json:"max_domains"`
	MaxContentPerMonth int        `json:"max_content_per_month"`
	ExpiresAt          *time.Time `json:"expires_at"`
	Timezone           string     `json:"timezone"`
}

func (h *Handler) CreateLicense(c *gin.Context) {
	var req createLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	lic, err := h.licenses.Create(c.Request.Context(), license.CreateInput{
		TenantID:           req.TenantID,
		Plan:               req.Plan,
		MaxDomains:         req.MaxDomains,
		MaxContentPerMonth: req.MaxContentPerMonth,
		ExpiresAt:          req.ExpiresAt,
		Timezone:           req.Timezone,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, lic)
}

func (h *Handler) GetLicense(c *gin.Context) {
	lic, err := h.findLicense(c)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

type updateStatusRequest struct {
	Status license.Status `json:"status" binding:"required"`
}

func (h *Handler) UpdateLicenseStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	lic, err := h.licenses.UpdateStatus(c.Request.Context(), c.Param("key"), req.Status)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

type updateLimitsRequest struct {
	MaxDomains         int `json:"max_domains" binding:"required"`
	MaxContentPerMonth int `json:"max_content_per_month" binding:"required"`
}

func (h *Handler) UpdateLicenseLimits(c *gin.Context) {
	var req updateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	lic, err := h.licenses.UpdateLimits(c.Request.Context(), c.Param("key"), req.MaxDomains, req.MaxContentPerMonth)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) DeleteLicense(c *gin.Context) {
	if err := h.licenses.Delete(c.Request.Context(), c.Param("key")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListDomains(c *gin.Context) {
	lic, err := h.findLicense(c)
	if err != nil {
		c.Error(err)
		return
	}

	slots, err := h.registry.List(c.Request.Context(), lic.ID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": slots})
}

// ActivateDomain and DeactivateDomain route through the engine so the admin
// surface and the plugin surface enforce identical lifecycle and quota rules.
func (h *Handler) ActivateDomain(c *gin.Context) {
	h.authorizeOp(c, entitlement.OpActivate)
}

func (h *Handler) DeactivateDomain(c *gin.Context) {
	h.authorizeOp(c, entitlement.OpDeactivate)
}

func (h *Handler) authorizeOp(c *gin.Context, op entitlement.Operation) {
	lic, err := h.findLicense(c)
	if err != nil {
		c.Error(err)
		return
	}

	decision, err := h.engine.Authorize(c.Request.Context(), entitlement.AuthorizeRequest{
		LicenseKey: lic.LicenseKey,
		Domain:     c.Param("domain"),
		Operation:  op,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *Handler) VerifyDomain(c *gin.Context) {
	lic, err := h.findLicense(c)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.registry.VerifyOwnership(c.Request.Context(), lic.ID, c.Param("domain")); err != nil {
		if errors.Is(err, domain.ErrSlotNotFound) {
			c.Error(errutil.NotFound("domain not registered under this license"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *Handler) GetUsage(c *gin.Context) {
	lic, err := h.findLicense(c)
	if err != nil {
		c.Error(err)
		return
	}

	used, err := h.counter.MonthlyContentCount(c.Request.Context(), lic)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"monthly_used":  used,
		"monthly_limit": lic.MaxContentPerMonth,
	})
}

type recordUsageRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Domain   string `json:"domain" binding:"required"`
	Kind     string `json:"kind"`
}

func (h *Handler) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	event, err := h.counter.Record(c.Request.Context(), req.TenantID, req.Domain, req.Kind)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

type createAPIKeyRequest struct {
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name" binding:"required"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	key, secret, err := h.apikeys.Create(c.Request.Context(), apikey.CreateInput{
		TenantID:  req.TenantID,
		Name:      req.Name,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": key,
		"secret":  secret,
	})
}

func (h *Handler) RevokeAPIKey(c *gin.Context) {
	if err := h.apikeys.Revoke(c.Request.Context(), c.Param("key_id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) findLicense(c *gin.Context) (*license.License, error) {
	lic, err := h.licenses.FindByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found")
	}
	return lic, nil
}

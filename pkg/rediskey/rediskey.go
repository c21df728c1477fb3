package rediskey

import "fmt"

// Key namespaces (global convention across services)
const (
	LicensePrefix      = "license"
	MonthlyUsagePrefix = "usage:monthly"
	UsageVersionPrefix = "usage:ver"
	TenantSeqKey       = "seq:tenant"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLicenseKey returns "license:{licenseKey}"
func BuildLicenseKey(licenseKey string) string {
	return NamespaceKey(LicensePrefix, licenseKey)
}

// BuildMonthlyUsageKey returns "usage:monthly:{tenantID}:{window}". The window
// token carries the cache version and the window start, so every distinct
// counting window gets its own entry.
func BuildMonthlyUsageKey(tenantID, window string) string {
	return fmt.Sprintf("%s:%s:%s", MonthlyUsagePrefix, tenantID, window)
}

// BuildUsageVersionKey returns "usage:ver:{tenantID}". Writers bump it to
// invalidate every cached usage figure for the tenant at once, whatever
// timezone window the figure was computed for.
func BuildUsageVersionKey(tenantID string) string {
	return NamespaceKey(UsageVersionPrefix, tenantID)
}

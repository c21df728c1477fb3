package middleware

import (
	"context"
	"strings"

	"contentplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-API-Key"

// VerifyFunc checks an API key id/secret pair against the key store.
type VerifyFunc func(ctx context.Context, keyID, secret string) error

// APIKeyAuth guards admin routes. Keys are presented as "<key_id>.<secret>"
// in the X-API-Key header.
func APIKeyAuth(verify VerifyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(APIKeyHeader)
		if raw == "" {
			c.AbortWithStatusJSON(401, errutil.BaseError{
				Code:    errutil.StatusUnauthorized,
				Message: "missing api key",
			}.JSON())
			return
		}

		keyID, secret, ok := strings.Cut(raw, ".")
		if !ok {
			c.AbortWithStatusJSON(401, errutil.BaseError{
				Code:    errutil.StatusUnauthorized,
				Message: "malformed api key",
			}.JSON())
			return
		}

		if err := verify(c.Request.Context(), keyID, secret); err != nil {
			c.AbortWithStatusJSON(401, errutil.BaseError{
				Code:    errutil.StatusUnauthorized,
				Message: "invalid api key",
			}.JSON())
			return
		}

		c.Next()
	}
}

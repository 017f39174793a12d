// audit.go records every mutating request as an audit entry.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/audit"
)

// AuditMiddleware ships an audit entry after each POST, PUT or DELETE on a
// matched route with the acting organization (from verified claims, when
// present), the target and the outcome. Reads are not audited. Shipping
// failures are logged and never affect the response.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			return
		}

		action := c.FullPath()
		if action == "" {
			return
		}

		entry := &audit.Entry{
			Timestamp:          time.Now().UTC(),
			Action:             c.Request.Method + " " + action,
			StatusCode:         c.Writer.Status(),
			Success:            c.Writer.Status() < 400,
			IPAddress:          c.ClientIP(),
			TargetOrganization: c.Query("organization_name"),
		}
		if id, ok := c.Get(RequestIDKey); ok {
			if s, ok := id.(string); ok {
				entry.RequestID = s
			}
		}
		if claims := ClaimsFromContext(c); claims != nil {
			entry.ActorOrganization = claims.OrganizationID
			entry.ActorAdminID = claims.AdminID
		}

		if err := shipper.Ship(c.Request.Context(), entry); err != nil {
			slog.WarnContext(c.Request.Context(), "failed to ship audit entry", "action", entry.Action, "error", err)
		}
	}
}

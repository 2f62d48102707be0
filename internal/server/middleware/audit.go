package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"safecircle/internal/audit"
)

// AuditResourceKey lets a handler name the resource it created so the audit entry can reference it.
const AuditResourceKey = "audit_resource_id"

// Audit records an audit entry after each authenticated request. Action and resource come from
// the route template. Writing is best-effort and never changes the response.
func Audit(logger audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithIP(c.Request.Context(), c.ClientIP()))
		c.Next()

		userID := CurrentUser(c)
		route := c.FullPath()
		if logger == nil || userID == "" || route == "" {
			return
		}
		ar := audit.ParseRoute(c.Request.Method, route)
		resourceID := c.GetString(AuditResourceKey)
		if resourceID == "" {
			resourceID = c.Param("id")
		}
		logger.LogEvent(c.Request.Context(), userID, ar.Action, ar.Resource, resourceID,
			fmt.Sprintf(`{"status":%d}`, c.Writer.Status()))
	}
}

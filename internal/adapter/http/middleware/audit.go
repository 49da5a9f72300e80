package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type auditRoute struct {
	action       domain.AuditAction
	resourceType string
}

// auditedRoutes maps "METHOD route-template" to the audit action it performs.
var auditedRoutes = map[string]auditRoute{
	"POST /api/v1/auth/signup":          {domain.AuditActionSignup, "user"},
	"POST /api/v1/auth/login":           {domain.AuditActionLogin, "session"},
	"GET /api/v1/auth/google/callback":  {domain.AuditActionLogin, "session"},
	"POST /api/v1/auth/logout":          {domain.AuditActionLogout, "session"},
	"POST /api/v1/auth/reset-password":  {domain.AuditActionPasswordReset, "user"},
	"POST /api/v1/auth/change-password": {domain.AuditActionPasswordChange, "user"},
	"POST /api/v1/auth/deactivate":      {domain.AuditActionDeactivate, "user"},
	"POST /api/v1/keys":                 {domain.AuditActionAPIKeyIssue, "api_key"},
	"POST /api/v1/keys/:id/revoke":      {domain.AuditActionAPIKeyRevoke, "api_key"},
	"DELETE /api/v1/keys/:id":           {domain.AuditActionAPIKeyDelete, "api_key"},
	"POST /api/v1/keys/rollover":        {domain.AuditActionAPIKeyRollover, "api_key"},
	"POST /api/v1/wallet/transfer":      {domain.AuditActionTransfer, "transaction"},
	"POST /api/v1/wallet/deposit":       {domain.AuditActionDepositInitiate, "transaction"},
}

// AuditLog records successful audited operations after the handler has run.
// Handlers may set CtxAuditUserID (for unauthenticated routes) and
// CtxAuditResourceID.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}

		route, ok := auditedRoutes[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       route.action,
			ResourceType: route.resourceType,
			ResourceID:   c.GetString(CtxAuditResourceID),
			IPAddress:    c.ClientIP(),
			CreatedAt:    time.Now().UTC(),
		}

		if p := GetPrincipal(c); p != nil {
			userID := p.UserID
			entry.UserID = &userID
			if !p.IsUser() {
				keyID := p.KeyID
				entry.APIKeyID = &keyID
			}
		} else if v, exists := c.Get(CtxAuditUserID); exists {
			if id, ok := v.(uuid.UUID); ok {
				entry.UserID = &id
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}

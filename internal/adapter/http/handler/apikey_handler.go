package handler

import (
	"wallet-service/internal/adapter/http/dto"
	"wallet-service/internal/adapter/http/middleware"
	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIKeyHandler handles service key management. All routes require a user session.
type APIKeyHandler struct {
	keySvc ports.APIKeyService
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(keySvc ports.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keySvc: keySvc}
}

// Create handles POST /api/v1/keys.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req dto.CreateAPIKeyRequest
	if !bind(c, &req) {
		return
	}

	names := req.Permissions
	if len(names) == 0 {
		names = []string{string(domain.PermissionRead)}
	}
	perms, err := domain.ParsePermissions(names)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	principal := middleware.GetPrincipal(c)
	key, secret, err := h.keySvc.Issue(c.Request.Context(), ports.IssueAPIKeyRequest{
		OwnerID:     principal.UserID,
		Name:        req.Name,
		Permissions: perms,
		Expiry:      req.Expiry,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, key.ID.String())
	response.Created(c, dto.NewAPIKeyResponse(key, secret))
}

// List handles GET /api/v1/keys.
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.keySvc.List(c.Request.Context(), middleware.GetPrincipal(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.APIKeyResponse, len(keys))
	for i := range keys {
		items[i] = dto.NewAPIKeyResponse(&keys[i], "")
	}
	response.OK(c, items)
}

// Revoke handles POST /api/v1/keys/:id/revoke.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	if err := h.keySvc.Revoke(c.Request.Context(), middleware.GetPrincipal(c).UserID, keyID); err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, keyID.String())
	response.OK(c, gin.H{"message": "API key revoked"})
}

// Delete handles DELETE /api/v1/keys/:id.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	if err := h.keySvc.Delete(c.Request.Context(), middleware.GetPrincipal(c).UserID, keyID); err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, keyID.String())
	response.OK(c, gin.H{"message": "API key deleted"})
}

// Rollover handles POST /api/v1/keys/rollover.
func (h *APIKeyHandler) Rollover(c *gin.Context) {
	var req dto.RolloverAPIKeyRequest
	if !bind(c, &req) {
		return
	}

	expiredID, err := uuid.Parse(req.ExpiredKeyID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid expired_key_id"))
		return
	}

	key, secret, err := h.keySvc.Rollover(c.Request.Context(), middleware.GetPrincipal(c).UserID, expiredID, req.Expiry)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, key.ID.String())
	response.Created(c, dto.NewAPIKeyResponse(key, secret))
}

func keyIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid key id"))
		return uuid.Nil, false
	}
	return id, true
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/service"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderRequestID     = "X-Request-ID"

	bearerPrefix = "Bearer "

	// Context keys
	CtxPrincipal       = "principal"
	CtxAuditUserID     = "audit_user_id"
	CtxAuditResourceID = "audit_resource_id"
)

// RequestID assigns every request an id, reusing a sane inbound X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Authenticate resolves the caller from a bearer token or an X-API-Key header
// and stores the principal on the context.
func Authenticate(gate ports.AuthGate, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, ok := bearerToken(c.GetHeader(HeaderAuthorization))
		if !ok {
			response.Abort(c, apperror.ErrUnauthenticated())
			return
		}
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))

		principal, err := gate.Resolve(c.Request.Context(), bearer, apiKey)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("authentication failed")
			response.Abort(c, err)
			return
		}

		c.Set(CtxPrincipal, principal)
		c.Next()
	}
}

// bearerToken extracts the token from an Authorization header. An absent
// header is fine; a present header in any other scheme is not.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", true
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerPrefix):]), true
}

// RequirePermission rejects principals lacking perm. Must run after Authenticate.
func RequirePermission(perm domain.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.RequirePermission(GetPrincipal(c), perm); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}

// RequireUser rejects API-key principals. Must run after Authenticate.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.RequireUser(GetPrincipal(c)); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated principal, or nil.
func GetPrincipal(c *gin.Context) *domain.Principal {
	v, exists := c.Get(CtxPrincipal)
	if !exists {
		return nil
	}
	p, _ := v.(*domain.Principal)
	return p
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if id, ok := c.Get(response.RequestIDKey); ok {
			event = event.Interface("request_id", id)
		}
		if p := GetPrincipal(c); p != nil {
			event = event.Str("principal", string(p.Kind)).Str("user_id", p.UserID.String())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				response.Abort(c, apperror.New(apperror.CodeInternal, "Internal server error", http.StatusInternalServerError))
			}
		}()
		c.Next()
	}
}

// MaxBodySize limits the request body. Reads past the limit fail, which the
// JSON binders surface as a validation error.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

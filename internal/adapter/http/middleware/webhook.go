package middleware

import (
	"bytes"
	"io"

	"wallet-service/internal/core/ports"
	"wallet-service/internal/metrics"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const HeaderPaystackSignature = "X-Paystack-Signature"

// PaystackSignature verifies the HMAC-SHA512 of the raw body against the
// X-Paystack-Signature header and restores the body for the handler.
func PaystackSignature(sigSvc ports.SignatureService, secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(HeaderPaystackSignature)
		if signature == "" || secret == "" {
			metrics.Get().RecordWebhook(metrics.OutcomeRejected)
			response.Abort(c, apperror.ErrUnauthenticated())
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Abort(c, apperror.Validation("cannot read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !sigSvc.Verify(secret, body, signature) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("webhook signature mismatch")
			metrics.Get().RecordWebhook(metrics.OutcomeRejected)
			response.Abort(c, apperror.ErrUnauthenticated())
			return
		}

		c.Next()
	}
}

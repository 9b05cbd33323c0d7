package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	"github.com/seeklabs/bloxscout/internal/payment/webhook"
)

// Webhook bodies are small JSON events; reject anything oversized before
// HMAC verification touches it.
const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook authenticates and applies a billing partner event.
// At-least-once delivery means replays and already-processed events are
// acknowledged 200, never retried into a double credit.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.verifier.Verify(payload, c.GetHeader(webhook.SignatureHeader)); err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := webhook.ParseEvent(webhook.DefaultProvider, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	if err := s.paymentSvc.ProcessEvent(c.Request.Context(), event, payload); err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

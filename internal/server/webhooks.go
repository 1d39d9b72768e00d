package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

// HandleStripeWebhook answers 200 once the delivery is recorded, whatever its processing outcome.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.eventSvc.Ingest(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if !errors.Is(err, eventdomain.ErrInvalidSignature) && !errors.Is(err, eventdomain.ErrMalformedPayload) {
			s.log.Error("webhook not recorded", zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"status": "ok", "duplicate": result.Duplicate}
	if result.Event != nil {
		c.Set("event_type", string(result.Event.Kind))
		resp["event_id"] = result.Event.ID.String()
	}
	c.JSON(http.StatusOK, resp)
}

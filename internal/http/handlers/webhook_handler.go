package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/http/middleware"
)

// PostEvent handles POST /webhook/events: one push event from the ticketing
// system.
//
// Delivery is at-least-once, so the response contract is deliberately coarse:
// every handled, ignored, or duplicate event is acknowledged with 200 to stop
// redelivery, and only infrastructure failures (store or downstream API
// errors) return 500 so the sender retries.
func (h *Handler) PostEvent(c *gin.Context) {
	var ev domain.PushEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid event payload")
		return
	}
	if ev.CaseID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "caseId is required")
		return
	}

	if err := h.gateway.HandleEvent(c.Request.Context(), ev); err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Str("event_id", ev.ID).
			Str("case_id", ev.CaseID).
			Err(err).
			Msg("event processing failed")
		fail(c, http.StatusInternalServerError, ErrCodeEventFailed, "event processing failed")
		return
	}

	ok(c, http.StatusOK, gin.H{"status": "accepted"})
}

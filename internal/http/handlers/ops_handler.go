package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-case-sync/internal/http/middleware"
	"github.com/tbourn/go-case-sync/internal/repo"
)

// RebuildIndexes handles POST /api/v1/indexes/rebuild: drop and re-derive
// both secondary indexes from a full scan of the primary case records. This
// is the repair path for index drift; the primary records are the only
// source of truth.
func (h *Handler) RebuildIndexes(c *gin.Context) {
	n, err := repo.RebuildIndexes(c.Request.Context(), h.db)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("index rebuild failed")
		fail(c, http.StatusInternalServerError, ErrCodeRebuildFailed, "index rebuild failed")
		return
	}
	middleware.LoggerFrom(c).Info().Int("indexed", n).Msg("indexes rebuilt")
	ok(c, http.StatusOK, gin.H{"indexed": n})
}

// TriggerPoll handles POST /api/v1/poll: run one reconciliation cycle now
// instead of waiting for the scheduled tick.
func (h *Handler) TriggerPoll(c *gin.Context) {
	failed, err := h.poller.RunOnce(c.Request.Context())
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("manual poll failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "poll cycle failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"failed": failed})
}

// TriggerCleanup handles POST /api/v1/cleanup: run one dissolution scan now.
func (h *Handler) TriggerCleanup(c *gin.Context) {
	dissolved, err := h.janitor.RunOnce(c.Request.Context())
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("manual cleanup failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "cleanup cycle failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"dissolved": dissolved})
}

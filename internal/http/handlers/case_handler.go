package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-case-sync/internal/http/middleware"
	"github.com/tbourn/go-case-sync/internal/repo"
	"github.com/tbourn/go-case-sync/internal/utils"
)

// defaultUserCaseLimit caps per-user listings when no explicit limit is given.
const defaultUserCaseLimit = 10

// ListCases handles GET /api/v1/cases: every tracked case.
func (h *Handler) ListCases(c *gin.Context) {
	cases, err := repo.ListAllCases(c.Request.Context(), h.db)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("list cases failed")
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list cases")
		return
	}
	ok(c, http.StatusOK, gin.H{"cases": cases, "count": len(cases)})
}

// GetCase handles GET /api/v1/cases/:id.
func (h *Handler) GetCase(c *gin.Context) {
	id := c.Param("id")
	cs, err := repo.GetCase(c.Request.Context(), h.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "case not found")
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Str("case_id", id).Err(err).Msg("get case failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load case")
		return
	}
	ok(c, http.StatusOK, cs)
}

// DeleteCase handles DELETE /api/v1/cases/:id. This is the only way a
// tracked case is destroyed; both secondary indexes are scrubbed with it.
func (h *Handler) DeleteCase(c *gin.Context) {
	id := c.Param("id")
	err := repo.DeleteCase(c.Request.Context(), h.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "case not found")
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Str("case_id", id).Err(err).Msg("delete case failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not delete case")
		return
	}
	noContent(c)
}

// ListChatCases handles GET /api/v1/chats/:id/cases: cases visible in a
// chat, whether as origin or as dedicated channel.
func (h *Handler) ListChatCases(c *gin.Context) {
	chatID := c.Param("id")
	cases, err := repo.ListCasesByChat(c.Request.Context(), h.db, chatID)
	if err != nil {
		middleware.LoggerFrom(c).Error().Str("chat_id", chatID).Err(err).Msg("list chat cases failed")
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list cases for chat")
		return
	}
	ok(c, http.StatusOK, gin.H{"chat_id": chatID, "cases": cases, "count": len(cases)})
}

// ListUserCases handles GET /api/v1/users/:id/cases?limit=N: the user's most
// recently opened cases, newest first.
func (h *Handler) ListUserCases(c *gin.Context) {
	userID := c.Param("id")
	limit := utils.AtoiDefault(c.Query("limit"), defaultUserCaseLimit)
	if limit < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be >= 1")
		return
	}

	cases, err := repo.ListCasesByUser(c.Request.Context(), h.db, userID, limit)
	if err != nil {
		middleware.LoggerFrom(c).Error().Str("user_id", userID).Err(err).Msg("list user cases failed")
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list cases for user")
		return
	}
	ok(c, http.StatusOK, gin.H{"user_id": userID, "cases": cases, "count": len(cases)})
}

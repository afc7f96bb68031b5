package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dietchat/internal/metrics"
	"dietchat/internal/models"
	"dietchat/internal/relay"
	"dietchat/internal/service/chat"
	"dietchat/internal/service/conversation"
)

// ChatIDHeader carries the resolved session id of a chat stream.
const ChatIDHeader = "X-Chat-Id"

func (h *Handler) health(c *gin.Context) {
	features := []string{}
	if h.search.Enabled() {
		features = append(features, "web-search-enabled")
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "chat-api",
		"model":     h.modelName,
		"features":  features,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// chat streams one assistant reply as server-sent events. Everything that
// can fail with a status code happens before the headers are committed.
func (h *Handler) chat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ChatRejections.WithLabelValues("validation").Inc()
		respondError(c, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	prepared, err := h.pipeline.Prepare(ctx, userID, req)
	if err != nil {
		var verr *chat.ValidationError
		var authErr *conversation.AuthorizationError
		switch {
		case errors.As(err, &verr):
			metrics.ChatRejections.WithLabelValues("validation").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     verr.Error(),
				"code":      codeValidation,
				"fields":    verr.Fields,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		case errors.As(err, &authErr):
			metrics.ChatRejections.WithLabelValues("forbidden").Inc()
			respondError(c, http.StatusForbidden, codeForbidden, authErr.Error())
		default:
			metrics.ChatRejections.WithLabelValues("internal").Inc()
			h.logger.ErrorContext(ctx, "prepare chat turn", "user_id", userID, "error", err)
			respondError(c, http.StatusInternalServerError, codeInternal, "failed to start chat")
		}
		return
	}

	transport, err := relay.NewHTTPTransport(c.Writer)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "streaming not supported")
		return
	}
	relay.SetHeaders(c.Writer.Header())
	c.Header(ChatIDHeader, prepared.Session.ID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	h.pipeline.Stream(ctx, prepared, transport)
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessions, err := h.conversations.ListSessions(c.Request.Context(), userID, h.historyLimit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "failed to fetch history")
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"history": sessions})
}

func (h *Handler) getChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	session, turns, err := h.conversations.GetSessionWithTurns(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, codeNotFound, "chat not found")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "failed to fetch chat")
		return
	}
	if turns == nil {
		turns = make([]models.Turn, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":  session,
		"turns": turns,
	})
}

func (h *Handler) deleteChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.conversations.DeleteSession(c.Request.Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, codeNotFound, "chat not found")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "failed to delete chat")
		return
	}
	c.Status(http.StatusNoContent)
}

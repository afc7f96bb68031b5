package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dietchat/internal/auth"
	"dietchat/internal/metrics"
	"dietchat/internal/ratelimit"
)

// rateLimit admits chat requests per user. Limit headers are set before the
// handler runs so they survive on 400 and 429 responses. A failing limiter
// lets the request through.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if userID, ok := auth.UserIDFromContext(c); ok {
			key = "user:" + strconv.FormatInt(userID, 10)
		}
		decision, err := h.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			h.logger.WarnContext(c.Request.Context(), "rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		setRateLimitHeaders(c, decision)
		if !decision.Allowed {
			metrics.ChatRejections.WithLabelValues("rate_limited").Inc()
			respondError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests, please slow down")
			return
		}
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.Reset.UnixMilli(), 10))
}

// RequestLogger logs one line per request once the handler returns.
func (h *Handler) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := auth.UserIDFromContext(c); ok {
			attrs = append(attrs, "user_id", userID)
		}
		if chatID := c.Writer.Header().Get(ChatIDHeader); chatID != "" {
			attrs = append(attrs, "chat_id", chatID)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			h.logger.ErrorContext(c.Request.Context(), "request", attrs...)
		case c.Writer.Status() >= http.StatusBadRequest:
			h.logger.WarnContext(c.Request.Context(), "request", attrs...)
		default:
			h.logger.InfoContext(c.Request.Context(), "request", attrs...)
		}
	}
}

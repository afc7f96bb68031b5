package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"dietchat/internal/models"
	"dietchat/internal/worker"
)

const (
	maxSearchResults = 5
	maxSummaryChars  = 2000
)

type analyzeRequest struct {
	AIResponse string `json:"aiResponse"`
}

// analyze extracts form fields from an assistant reply on the worker pool.
func (h *Handler) analyze(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AIResponse) == "" {
		respondError(c, http.StatusBadRequest, codeValidation, "aiResponse is required")
		return
	}

	ctx := c.Request.Context()
	spec, err := worker.Do(ctx, h.workers, userID, "extract", func() models.FormSpec {
		return h.extractor.Extract(ctx, req.AIResponse)
	})
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrDispatcherBusy):
			respondError(c, http.StatusTooManyRequests, codeRateLimited, "server is busy, please retry")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.Abort()
		default:
			respondError(c, http.StatusServiceUnavailable, codeInternal, err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, spec)
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResult struct {
	Snippet string `json:"snippet"`
}

// searchWeb exposes the augmentation lookup directly.
func (h *Handler) searchWeb(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		respondError(c, http.StatusBadRequest, codeValidation, "query is required")
		return
	}

	set := h.search.Lookup(c.Request.Context(), strings.TrimSpace(req.Query))
	results := make([]searchResult, 0, len(set.Snippets))
	lines := make([]string, 0, len(set.Snippets))
	for _, snippet := range set.Snippets {
		if len(results) == maxSearchResults {
			break
		}
		results = append(results, searchResult{Snippet: snippet})
		lines = append(lines, "• "+snippet)
	}
	summary := strings.Join(lines, "\n")
	if utf8.RuneCountInString(summary) > maxSummaryChars {
		summary = string([]rune(summary)[:maxSummaryChars])
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
		"summary": summary,
		"query":   req.Query,
	})
}

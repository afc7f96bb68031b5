package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dietchat/internal/auth"
	"dietchat/internal/metrics"
	"dietchat/internal/ratelimit"
	"dietchat/internal/service/account"
	"dietchat/internal/service/chat"
	"dietchat/internal/service/conversation"
	"dietchat/internal/service/extract"
	"dietchat/internal/service/search"
	"dietchat/internal/worker"
)

// Error codes carried in the "code" field of error bodies.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeRateLimited  = "RATE_LIMITED"
	codeInternal     = "INTERNAL_ERROR"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Accounts      *account.Service
	Auth          *auth.Service
	Conversations *conversation.Store
	Pipeline      *chat.Pipeline
	Extractor     *extract.Extractor
	Search        *search.Augmenter
	Workers       *worker.Dispatcher
	// Limiter may be nil to disable rate limiting.
	Limiter      ratelimit.Limiter
	ModelName    string
	HistoryLimit int
	Logger       *slog.Logger
}

// Handler wires HTTP routes to the chat pipeline and its supporting services.
type Handler struct {
	accounts      *account.Service
	auth          *auth.Service
	conversations *conversation.Store
	pipeline      *chat.Pipeline
	extractor     *extract.Extractor
	search        *search.Augmenter
	workers       *worker.Dispatcher
	limiter       ratelimit.Limiter
	modelName     string
	historyLimit  int
	logger        *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = conversation.DefaultListLimit
	}
	return &Handler{
		accounts:      deps.Accounts,
		auth:          deps.Auth,
		conversations: deps.Conversations,
		pipeline:      deps.Pipeline,
		extractor:     deps.Extractor,
		search:        deps.Search,
		workers:       deps.Workers,
		limiter:       deps.Limiter,
		modelName:     deps.ModelName,
		historyLimit:  deps.HistoryLimit,
		logger:        deps.Logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/chat", h.health)

	authed := api.Group("", h.auth.Middleware())
	authed.POST("/users/logout", h.logoutUser)
	authed.DELETE("/users/me", h.deleteUser)
	authed.POST("/chat", h.rateLimit(), h.chat)
	authed.GET("/chat/:id", h.getChat)
	authed.DELETE("/chat/:id", h.deleteChat)
	authed.GET("/history", h.history)
	authed.POST("/analyze", h.analyze)
	authed.POST("/search", h.searchWeb)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     message,
		"code":      code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		respondError(c, http.StatusUnauthorized, codeUnauthorized, "authorization required")
		return 0, false
	}
	return userID, true
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	user, err := h.accounts.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrCredentialsRequired):
			respondError(c, http.StatusBadRequest, codeValidation, err.Error())
		case errors.Is(err, account.ErrUsernameTaken):
			respondError(c, http.StatusConflict, codeConflict, err.Error())
		default:
			h.logger.ErrorContext(c.Request.Context(), "register user", "error", err)
			respondError(c, http.StatusInternalServerError, codeInternal, "register failed")
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "issue token failed")
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "issue token failed")
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	h.workers.CancelUser(id)
	if err := h.accounts.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, codeNotFound, "user not found")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

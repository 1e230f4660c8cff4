package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fossgis/3dmr/internal/auth"
	"github.com/fossgis/3dmr/internal/catalog"
	"github.com/fossgis/3dmr/internal/session"
	"github.com/fossgis/3dmr/internal/storage"
	"github.com/fossgis/3dmr/internal/users"
)

const actorContextKey = "tdmr_actor"

const defaultMaxUploadBytes = 32 << 20

var (
	errMissingProviderVerifier = errors.New("provider verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingCatalogService   = errors.New("catalog service dependency required")
	errMissingFileStore        = errors.New("file store dependency required")
	errMissingModelValidator   = errors.New("model validator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// ProviderVerifier resolves upstream OAuth access tokens to identities.
type ProviderVerifier interface {
	Verify(ctx context.Context, token string) (auth.Profile, error)
}

// TokenManager issues and validates API bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, uid string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// ModelValidator checks an uploaded payload and returns the verified bytes.
type ModelValidator interface {
	Validate(ctx context.Context, payload io.Reader) ([]byte, error)
}

type Dependencies struct {
	ProviderVerifier ProviderVerifier
	TokenManager     TokenManager
	Users            *users.Service
	Catalog          *catalog.Service
	Files            *storage.Store
	Validator        ModelValidator
	Sessions         *session.Tracker
	MaxUploadBytes   int64
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ProviderVerifier == nil {
		return nil, errMissingProviderVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}
	if deps.Files == nil {
		return nil, errMissingFileStore
	}
	if deps.Validator == nil {
		return nil, errMissingModelValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:       deps.ProviderVerifier,
		tokens:         deps.TokenManager,
		users:          deps.Users,
		catalog:        deps.Catalog,
		files:          deps.Files,
		validator:      deps.Validator,
		sessions:       deps.Sessions,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	public := router.Group("/api")
	public.Use(handler.identifyViewer)
	public.Use(handler.rememberPage)
	public.GET("/info/:model_id", handler.handleInfo)
	public.GET("/model/:model_id", handler.handleDownloadLatest)
	public.GET("/model/:model_id/:revision", handler.handleDownloadRevision)
	public.GET("/tag/:tag", handler.handleLookupTag)
	public.GET("/category/:category", handler.handleLookupCategory)
	public.GET("/author/:username", handler.handleLookupAuthor)
	public.GET("/title/:title", handler.handleLookupTitle)
	public.GET("/range", handler.handleLookupRange)
	public.POST("/search", handler.handleSearch)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/upload", handler.handleUpload)
	protected.POST("/revise/:model_id", handler.handleRevise)
	protected.POST("/edit/:model_id/:revision", handler.handleEdit)
	protected.DELETE("/model/:model_id", handler.handleDelete)
	protected.POST("/comment/:model_id/:revision", handler.handleComment)
	protected.POST("/hide/:model_id/:revision", handler.handleHide(true))
	protected.POST("/unhide/:model_id/:revision", handler.handleHide(false))
	protected.POST("/ban/:uid", handler.handleBan)
	protected.POST("/unban/:uid", handler.handleUnban)
	protected.POST("/profile", handler.handleProfileUpdate)

	return router, nil
}

type httpHandler struct {
	verifier       ProviderVerifier
	tokens         TokenManager
	users          *users.Service
	catalog        *catalog.Service
	files          *storage.Store
	validator      ModelValidator
	sessions       *session.Tracker
	maxUploadBytes int64
	logger         *zap.Logger
}

// authorizeRequest requires a valid bearer token and resolves the actor.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor, err := h.users.ResolveActor(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("actor resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if actor.UID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

// identifyViewer resolves an optional bearer token on public routes so that
// administrators see hidden records. Requests without a usable token proceed
// anonymously.
func (h *httpHandler) identifyViewer(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Next()
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		c.Next()
		return
	}
	actor, err := h.users.ResolveActor(c.Request.Context(), subject)
	if err != nil {
		h.logger.Warn("viewer resolution failed", zap.Error(err))
		c.Next()
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

// rememberPage records browse locations so a later login can return there.
func (h *httpHandler) rememberPage(c *gin.Context) {
	if h.sessions != nil && c.Request.Method == http.MethodGet {
		if err := h.sessions.RememberPage(c.Writer, c.Request); err != nil {
			h.logger.Warn("session update failed", zap.Error(err))
		}
	}
	c.Next()
}

func (h *httpHandler) actor(c *gin.Context) users.Actor {
	value, exists := c.Get(actorContextKey)
	if !exists {
		return users.Actor{}
	}
	actor, ok := value.(users.Actor)
	if !ok {
		return users.Actor{}
	}
	return actor
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// writeServiceError maps catalog failures onto the HTTP status contract.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, catalog.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, catalog.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

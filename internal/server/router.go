package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nestmatelabs/nestmate/internal/allocation"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/compat"
	"github.com/nestmatelabs/nestmate/internal/matching"
	"github.com/nestmatelabs/nestmate/internal/profile"
	"go.uber.org/zap"
)

const userIDContextKey = "nestmate_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingProfiles      = errors.New("profile service dependency required")
	errMissingRanker        = errors.New("ranker dependency required")
	errMissingMatching      = errors.New("matching service dependency required")
	errMissingAllocations   = errors.New("allocation service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	TokenManager TokenManager
	Profiles     *profile.Service
	Ranker       *compat.Ranker
	Matching     *matching.Service
	Allocations  *allocation.Service
	Highlights   *HighlightDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler assembles the gin router with all routes registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Ranker == nil {
		return nil, errMissingRanker
	}
	if deps.Matching == nil {
		return nil, errMissingMatching
	}
	if deps.Allocations == nil {
		return nil, errMissingAllocations
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	highlights := deps.Highlights
	if highlights == nil {
		highlights = NewHighlightDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		profiles:    deps.Profiles,
		ranker:      deps.Ranker,
		matching:    deps.Matching,
		allocations: deps.Allocations,
		highlights:  highlights,
		logger:      logger,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleGetProfile)
	protected.POST("/survey/submit", handler.handleSubmitSurvey)
	protected.GET("/matches/suggestions", handler.handleSuggestions)
	protected.GET("/matches", handler.handleListMatches)
	protected.POST("/matches/:matchID/rematch", handler.handleRematch)
	protected.POST("/connections", handler.handleCreateConnection)
	protected.GET("/connections/incoming", handler.handleListIncoming)
	protected.GET("/connections/pending-sent", handler.handleListPendingSent)
	protected.GET("/connections/accepted", handler.handleListAccepted)
	protected.GET("/connections/rejected", handler.handleListRejected)
	protected.POST("/connections/:requestID/respond", handler.handleRespond)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/mark-read", handler.handleMarkNotificationsRead)
	protected.GET("/rooms", handler.handleListRooms)
	protected.POST("/rooms", handler.handleAddRoom)
	protected.GET("/allocations/:matchID", handler.handleGetAllocation)
	protected.POST("/allocations/:matchID/select-room", handler.handleSelectRoom)
	protected.POST("/allocations/:matchID/highlight", handler.handleBroadcastHighlight)
	protected.GET("/allocations/:matchID/stream", handler.handleHighlightStream)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	profiles    *profile.Service
	ranker      *compat.Ranker
	matching    *matching.Service
	allocations *allocation.Service
	highlights  *HighlightDispatcher
	logger      *zap.Logger
}

// authorizeRequest validates the bearer token and stores the user id
// on the gin context. EventSource cannot set headers, so the token is
// also accepted as an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// respondError maps the service error taxonomy onto HTTP statuses in
// one place; handlers never pick status codes themselves.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(statusForKind(kind), gin.H{
		"error":   string(kind),
		"message": apperr.MessageOf(err),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

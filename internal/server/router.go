package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classdeck/livequiz/backend/internal/apperr"
	"github.com/classdeck/livequiz/backend/internal/auth"
	"github.com/classdeck/livequiz/backend/internal/live"
	"github.com/classdeck/livequiz/backend/internal/provision"
	"github.com/classdeck/livequiz/backend/internal/room"
	"github.com/classdeck/livequiz/backend/internal/session"
)

const ownerIDContextKey = "livequiz_owner_id"

var (
	errMissingValidator   = errors.New("portal validator dependency required")
	errMissingRoomService = errors.New("room service dependency required")
	errMissingSessions    = errors.New("session service dependency required")
	errMissingLive        = errors.New("live service dependency required")
	errMissingPipeline    = errors.New("provisioning pipeline dependency required")
)

// PortalVerifier validates portal-issued host credentials on a request.
type PortalVerifier interface {
	ValidateRequest(r *http.Request) (auth.PortalClaims, error)
}

// TopicDiscoverer proposes related topics for a free-text query.
type TopicDiscoverer interface {
	DiscoverTopics(ctx context.Context, query string) []string
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	Validator PortalVerifier
	Rooms     *room.Service
	Sessions  *session.Service
	Live      *live.Service
	Pipeline  *provision.Pipeline
	Topics    TopicDiscoverer
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router for the quiz engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Live == nil {
		return nil, errMissingLive
	}
	if deps.Pipeline == nil {
		return nil, errMissingPipeline
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
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
		validator: deps.Validator,
		rooms:     deps.Rooms,
		sessions:  deps.Sessions,
		live:      deps.Live,
		pipeline:  deps.Pipeline,
		topics:    deps.Topics,
		logger:    logger,
	}

	// Participant endpoints are anonymous.
	router.POST("/rooms/:code/join", handler.handleJoin)
	router.GET("/rooms/:code/lobby", handler.handleLobby)
	router.GET("/rooms/:code/status", handler.handleQuizStatus)
	router.GET("/rooms/:code/questions", handler.handleQuestions)
	router.POST("/participants/:id/answers", handler.handleSubmitAnswer)
	router.POST("/participants/:id/finish", handler.handleFinish)
	router.POST("/participants/:id/activity", handler.handleActivity)
	router.POST("/participants/:id/leave", handler.handleLeave)

	// Host endpoints require a portal-issued credential.
	host := router.Group("/")
	host.Use(handler.authorizeHost)
	host.POST("/rooms", handler.handleCreateRoom)
	host.GET("/rooms", handler.handleListRooms)
	host.POST("/rooms/:code/start", handler.handleStart)
	host.POST("/rooms/:code/close", handler.handleClose)
	host.POST("/rooms/:code/open", handler.handleOpen)
	host.DELETE("/rooms/:code", handler.handleDelete)
	host.POST("/rooms/:code/refill", handler.handleRefill)
	host.GET("/rooms/:code/stats", handler.handleStats)
	host.GET("/rooms/:code/export", handler.handleExport)
	host.GET("/topics/suggest", handler.handleTopicSuggest)

	return router, nil
}

type httpHandler struct {
	validator PortalVerifier
	rooms     *room.Service
	sessions  *session.Service
	live      *live.Service
	pipeline  *provision.Pipeline
	topics    TopicDiscoverer
	logger    *zap.Logger
}

func (h *httpHandler) authorizeHost(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("host credential rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) ownerID(c *gin.Context) string {
	return c.GetString(ownerIDContextKey)
}

// respondError maps the error taxonomy onto HTTP status codes.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindProvider:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	message := ""
	var appError *apperr.Error
	if errors.As(err, &appError) {
		message = appError.Message
	}
	c.JSON(status, gin.H{"error": kind.String(), "message": message})
}

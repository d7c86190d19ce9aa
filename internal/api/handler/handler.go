// Package handler exposes the chat services over HTTP and websockets.
package handler

import (
	"context"
	"net/http"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/complaint"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/recommend"

	"github.com/gin-gonic/gin"
)

// Profiles creates relational user profiles for new identities.
type Profiles interface {
	SaveUser(ctx context.Context, user *models.User) error
}

type Recommender interface {
	Recommend(ctx context.Context, userID string, limit int) ([]recommend.Candidate, error)
}

// StoreHealth reports the state of the document store.
type StoreHealth interface {
	Degraded() bool
	PendingWrites() int
}

// Deps are the services the handler serves. Profiles, Recommender, Store and
// Hub may be nil; their routes then answer 503.
type Deps struct {
	Auth        *Auth
	Searches    *matchmaking.Registry
	Queue       *matchmaking.Queue
	Relay       *notify.Relay
	Chats       *chat.Lifecycle
	Groups      *chat.Groups
	Complaints  *complaint.Service
	Recommender Recommender
	Profiles    Profiles
	Store       StoreHealth
	Hub         *chathub.ManagerService
	Log         *logger.Logger
}

type Handler struct {
	Deps
	log *logger.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Handler{Deps: d, log: log.Named("http")}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(RequestIDMiddleware(), LoggingMiddleware(h.log))

	r.GET("/health", h.Health)
	r.GET("/anonid", h.GetAnonID)

	api := r.Group("/", h.Auth.AuthMiddleware())
	api.GET("/ws", h.ServeWebSocket)

	api.POST("/search", h.StartSearch)
	api.GET("/search", h.SearchStatus)
	api.DELETE("/search", h.CancelSearch)

	api.GET("/notifications", h.Notifications)
	api.POST("/notifications/read", h.MarkNotificationRead)

	api.GET("/chats", h.ListChats)
	api.GET("/chats/latest", h.LatestChat)
	api.GET("/chats/:id/messages", h.ChatMessages)
	api.POST("/chats/:id/messages", h.SendMessage)
	api.POST("/chats/:id/read", h.MarkChatRead)
	api.POST("/chats/:id/end", h.EndChat)
	api.POST("/chats/:id/reports", h.ReportChat)

	api.POST("/groups", h.CreateGroup)
	api.POST("/groups/:id/join", h.JoinGroup)
	api.POST("/groups/:id/leave", h.LeaveGroup)
	api.PUT("/groups/:id/members/:uid/role", h.SetGroupRole)
	api.GET("/groups/:id/messages", h.GroupMessages)
	api.POST("/groups/:id/messages", h.SendGroupMessage)

	api.GET("/recommendations", h.Recommendations)
}

func (h *Handler) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.Store != nil {
		status["degraded"] = h.Store.Degraded()
		status["pendingWrites"] = h.Store.PendingWrites()
	}
	c.JSON(http.StatusOK, NewSuccessResponse(status))
}

func (h *Handler) unavailable(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, NewErrorResponse(what+" is not configured", "UNAVAILABLE"))
}

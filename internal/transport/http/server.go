package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/auth"
	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/core"
)

// Hub is the part of the core the transport talks to.
type Hub interface {
	RegisterClient(c *core.Client)
	UnregisterClient(c *core.Client)
	ChatRooms(ctx context.Context) ([]string, error)
	RoomMessages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, bool, error)
}

// NewServer builds the HTTP server. authService may be nil, in which case /ws and the REST
// endpoints are open and guest tokens are not issued.
//
// /ws is served outside gin: its response writer refuses to hijack once the router has
// touched the response, which breaks the upgrade.
func NewServer(hub Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	ws := NewWSHandler(hub, logger, cfg.MaxMessageBytes, cfg.RateLimit, cfg.RateBurst)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", WSAuth(authService, logger, ws))
	mux.Handle("/", NewRouter(hub, authService, cfg, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the REST routes on a fresh gin engine.
func NewRouter(hub Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	requireAuth := AuthMiddleware(authService, logger)

	api := router.Group("/api")
	if authService != nil {
		api.POST("/guest", NewAPIHandlers(authService, logger).GuestLogin)
	}

	rooms := NewRoomHandlers(hub, logger)
	chatAPI := api.Group("/chat", requireAuth)
	chatAPI.GET("/rooms", rooms.ListRooms)
	chatAPI.GET("/rooms/:roomId/messages", rooms.ListMessages)

	return router
}

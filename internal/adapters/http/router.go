package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fundmentor/signaling/internal/adapters/signal"
	"github.com/fundmentor/signaling/internal/app"
	"github.com/fundmentor/signaling/internal/config"
	"github.com/fundmentor/signaling/internal/domain"
)

// SetupRouter wires the websocket endpoint and the read-only introspection
// API. Nothing here mutates negotiation state; all reads go through the
// negotiator's snapshot queries.
func SetupRouter(ctx context.Context, cfg *config.Config, neg *app.Negotiator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ctrl := signal.NewController(neg, cfg.ReadLimit, cfg.PingPeriod, cfg.SendBuffer)

	api := r.Group("/api")
	api.GET("/ws", IdentityMiddleware(cfg.JWTSecret), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	// GET /api/rooms — every room with members or waiting requests.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": neg.Overview(c.Request.Context())})
	})

	// GET /api/rooms/:id — one room's members and ordered pending list.
	api.GET("/rooms/:id", func(c *gin.Context) {
		room := domain.RoomID(c.Param("id"))
		detail, ok := neg.RoomDetail(c.Request.Context(), room)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	return r
}

package http

import (
	"context"

	"github.com/dkeye/p2pcall/internal/app/orch"
	"github.com/dkeye/p2pcall/internal/app/playout"
	"github.com/dkeye/p2pcall/internal/config"
	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Calls is the part of the orchestrator the control API drives.
type Calls interface {
	StartCall(ctx context.Context, id domain.CallID) (core.CallSession, error)
	AcceptCall(ctx context.Context, id domain.CallID) (core.CallSession, error)
	Hangup(id domain.CallID) error
	SetMuted(id domain.CallID, muted bool) error
	Calls() []orch.CallInfo
}

// MediaStats reports inbound audio counters per call.
type MediaStats interface {
	Stats(id domain.CallID) (playout.Stats, bool)
}

// SetupRouter builds the control API. stats may be nil.
func SetupRouter(cfg *config.Config, calls Calls, stats MediaStats) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &callHandlers{calls: calls, stats: stats}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/calls", h.list)
	api.POST("/calls", h.start)
	api.POST("/calls/:id/mute", h.mute)
	api.DELETE("/calls/:id", h.hangup)
	api.GET("/calls/:id/stats", h.mediaStats)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

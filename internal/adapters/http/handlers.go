package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/p2pcall/internal/app/orch"
	"github.com/dkeye/p2pcall/internal/app/playout"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type StartCallRequest struct {
	CallID    domain.CallID `json:"callId"`
	Initiator bool          `json:"initiator"`
}

type MuteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type callHandlers struct {
	calls Calls
	stats MediaStats
}

func (h *callHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "calls": len(h.calls.Calls())})
}

func (h *callHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.calls.Calls())
}

func (h *callHandlers) start(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	open := h.calls.AcceptCall
	if req.Initiator {
		open = h.calls.StartCall
	}
	sess, err := open(c.Request.Context(), req.CallID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orch.CallInfo{
		CallID: sess.CallID(),
		Role:   sess.Role().String(),
		State:  sess.ConnectionState(),
		Muted:  sess.Muted(),
	})
}

func (h *callHandlers) mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing or invalid muted"})
		return
	}
	if err := h.calls.SetMuted(domain.CallID(c.Param("id")), *req.Muted); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *callHandlers) hangup(c *gin.Context) {
	if err := h.calls.Hangup(domain.CallID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *callHandlers) mediaStats(c *gin.Context) {
	id := domain.CallID(c.Param("id"))
	var (
		stats playout.Stats
		ok    bool
	)
	if h.stats != nil {
		stats, ok = h.stats.Stats(id)
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no inbound audio for call " + string(id)})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: domain.Kind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCall):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateCall), errors.Is(err, domain.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedEnvironment):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrTransportUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrMediaAccessDenied):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

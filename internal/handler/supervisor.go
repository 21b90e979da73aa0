package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"harvest/internal/models"
	"harvest/internal/repository"
	"harvest/internal/supervisor"
)

type WorkerFleet interface {
	ID() string
	Status() []supervisor.WorkerStatus
	Restart(ctx context.Context, workerID, reason string) error
}

type EventLister interface {
	Recent(ctx context.Context, workerID string, limit int) ([]models.WorkerEvent, error)
}

type TradeLister interface {
	List(ctx context.Context, params repository.ListTradeRecordsParams) ([]models.TradeRecord, error)
}

type SupervisorHandler struct {
	Supervisor WorkerFleet
	Events     EventLister
	Trades     TradeLister
	// Auth guards POST routes; nil refuses them.
	Auth gin.HandlerFunc
}

func (h *SupervisorHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/workers", h.workers)
	r.POST("/workers/:id/restart", guardOrDeny(h.Auth), h.restart)
	r.GET("/workers/:id/events", h.events)
	r.GET("/trades", h.trades)
}

func (h *SupervisorHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "supervisor_id": h.Supervisor.ID()})
}

func (h *SupervisorHandler) workers(c *gin.Context) {
	items := h.Supervisor.Status()
	alive := 0
	for _, w := range items {
		if w.Alive {
			alive++
		}
	}
	Ok(c, items, map[string]any{"count": len(items), "alive": alive})
}

func (h *SupervisorHandler) restart(c *gin.Context) {
	id := c.Param("id")
	err := h.Supervisor.Restart(c.Request.Context(), id, "manual restart by "+actor(c))
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrUnknownWorker):
		ErrorFrom(c, http.StatusNotFound, err, map[string]any{"worker_id": id})
		return
	default:
		ErrorFrom(c, http.StatusConflict, err, map[string]any{"worker_id": id})
		return
	}
	Ok(c, gin.H{"worker_id": id}, nil)
}

func (h *SupervisorHandler) events(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusNotFound, "event log disabled", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.Events.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		ErrorFrom(c, http.StatusInternalServerError, err, map[string]any{"worker_id": c.Param("id")})
		return
	}
	if items == nil {
		items = []models.WorkerEvent{}
	}
	Ok(c, items, map[string]any{"count": len(items), "limit": limit})
}

func (h *SupervisorHandler) trades(c *gin.Context) {
	if h.Trades == nil {
		Error(c, http.StatusNotFound, "trade audit disabled", nil)
		return
	}
	params := repository.ListTradeRecordsParams{
		WorkerID: optionalQuery(c, "worker_id"),
		UserID:   optionalQuery(c, "user_id"),
		Status:   optionalQuery(c, "status"),
	}
	params.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	params.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "since must be RFC3339", map[string]any{"since": raw})
			return
		}
		params.Since = &since
	}
	items, err := h.Trades.List(c.Request.Context(), params)
	if err != nil {
		ErrorFrom(c, http.StatusInternalServerError, err, nil)
		return
	}
	if items == nil {
		items = []models.TradeRecord{}
	}
	Ok(c, items, map[string]any{"count": len(items), "limit": params.Limit, "offset": params.Offset})
}

func optionalQuery(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"harvest/internal/provider"
	"harvest/internal/tradequeue"
	"harvest/internal/usage"
	"harvest/internal/worker"
)

type RuntimeStatus interface {
	Status() worker.Status
}

type QueueView interface {
	Stats() tradequeue.Stats
	GetTrade(id string) (tradequeue.Trade, bool)
}

type UsageView interface {
	AllUsage() []usage.Snapshot
}

type ChainView interface {
	State() provider.ChainState
	EnableEndpoint(name string) bool
}

type WorkerHandler struct {
	Runtime RuntimeStatus
	Queue   QueueView
	Usage   UsageView
	Chain   ChainView
	// Auth guards POST routes; nil refuses them.
	Auth gin.HandlerFunc
}

func (h *WorkerHandler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/status", h.status)
	r.GET("/usage", h.usage)
	r.GET("/providers", h.providers)
	r.POST("/providers/:name/enable", guardOrDeny(h.Auth), h.enableEndpoint)
	r.GET("/trades/:id", h.trade)
}

func (h *WorkerHandler) health(c *gin.Context) {
	st := h.Runtime.Status()
	if !st.Running {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped", "worker_id": st.WorkerID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "worker_id": st.WorkerID})
}

func (h *WorkerHandler) status(c *gin.Context) {
	st := h.Runtime.Status()
	body := gin.H{
		"worker_id":    st.WorkerID,
		"running":      st.Running,
		"user_count":   st.UserCount,
		"active_loops": st.ActiveLoops,
		"users":        st.Users,
	}
	if st.LastHeartbeat != nil {
		body["last_heartbeat"] = st.LastHeartbeat
	}
	if h.Queue != nil {
		body["queue"] = h.Queue.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (h *WorkerHandler) usage(c *gin.Context) {
	if h.Usage == nil {
		Ok(c, []usage.Snapshot{}, map[string]any{"count": 0})
		return
	}
	items := h.Usage.AllUsage()
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *WorkerHandler) providers(c *gin.Context) {
	if h.Chain == nil {
		Error(c, http.StatusNotFound, "no provider chain configured", nil)
		return
	}
	Ok(c, h.Chain.State(), nil)
}

func (h *WorkerHandler) enableEndpoint(c *gin.Context) {
	name := c.Param("name")
	if h.Chain == nil || !h.Chain.EnableEndpoint(name) {
		Error(c, http.StatusNotFound, "endpoint not found", map[string]any{"endpoint": name})
		return
	}
	Ok(c, gin.H{"endpoint": name, "available": true}, nil)
}

type tradeView struct {
	tradequeue.Trade
	Error string `json:"error,omitempty"`
}

func (h *WorkerHandler) trade(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusNotFound, "trade not found", nil)
		return
	}
	t, ok := h.Queue.GetTrade(c.Param("id"))
	if !ok {
		Error(c, http.StatusNotFound, "trade not found", map[string]any{"trade_id": c.Param("id")})
		return
	}
	view := tradeView{Trade: t}
	if t.Err != nil {
		view.Error = t.Err.Error()
	}
	Ok(c, view, nil)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is shared by worker and supervisor endpoints. Liveness checks
// (/health, /healthz, /status) reply with flat bodies instead.
type envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Message: "ok", Data: data, Meta: meta})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, envelope{Code: status, Message: message, Meta: meta})
}

func ErrorFrom(c *gin.Context, status int, err error, meta map[string]any) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	Error(c, status, msg, meta)
}

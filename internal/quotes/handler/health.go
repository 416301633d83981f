package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Health struct {
	Version string
	// Conns reports live WebSocket sessions.
	Conns func() int
}

func (h *Health) Check(c *gin.Context) {
	n := 0
	if h.Conns != nil {
		n = h.Conns()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     h.Version,
		"connections": n,
	})
}

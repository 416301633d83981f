package handler

import (
	"github.com/gin-gonic/gin"
	"quotestream.com/internal/quotes/ws"
)

type WS struct {
	Srv *ws.Server
}

// Quotes hands the request to the session controller; it answers 400/503
// itself before any upgrade.
func (h *WS) Quotes(c *gin.Context) {
	h.Srv.ServeWS(c.Writer, c.Request)
}

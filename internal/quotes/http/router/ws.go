package router

import (
	"github.com/gin-gonic/gin"
	"quotestream.com/internal/quotes/handler"
)

// WS mounts the quote stream on every path clients are known to dial.
func WS(r gin.IRoutes, h *handler.WS) {
	for _, p := range []string{"/ws", "/ws/quotes", "/v1/ws", "/v1/ws/quotes"} {
		r.GET(p, h.Quotes)
	}
}

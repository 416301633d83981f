package router

import (
	"github.com/gin-gonic/gin"
	"quotestream.com/internal/quotes/handler"
)

func Quotes(api *gin.RouterGroup, h *handler.Quotes) {
	quotes := api.Group("/quotes")
	{
		quotes.GET("", h.List)
		quotes.GET("/batch", h.LatestBatch)
		quotes.GET("/:ticker/latest", h.Latest)
		quotes.POST("/batch", h.CreateBatch)
		quotes.POST("/:ticker/history", h.History)
	}
}

// Package api exposes the read-only query surface: positions, open orders,
// daily P&L, governor budgets, and recent surge candidates. It never submits
// or cancels orders; trading decisions stay inside the process.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradekit/autotrader/internal/auth"
	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/execution"
	"github.com/tradekit/autotrader/internal/ledger"
	"github.com/tradekit/autotrader/internal/ratelimit"
	"github.com/tradekit/autotrader/internal/risk"
	"github.com/tradekit/autotrader/internal/surge"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/pkg/middleware"
	"github.com/tradekit/autotrader/pkg/response"
)

// GinHandlers contains HTTP handlers for the query endpoints.
type GinHandlers struct {
	exec     *execution.Manager
	riskMgr  *risk.Manager
	book     *ledger.Ledger
	governor *ratelimit.Governor
	pipeline *surge.Pipeline
}

// NewGinHandlers creates the query surface handlers.
func NewGinHandlers(exec *execution.Manager, riskMgr *risk.Manager, book *ledger.Ledger, governor *ratelimit.Governor, pipeline *surge.Pipeline) *GinHandlers {
	return &GinHandlers{
		exec:     exec,
		riskMgr:  riskMgr,
		book:     book,
		governor: governor,
		pipeline: pipeline,
	}
}

// ListPositionsHandler returns all open positions with marked prices.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.book.All())
	}
}

// ListOpenOrdersHandler returns orders that have not reached a terminal state.
func (h *GinHandlers) ListOpenOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.exec.ListOpenOrders())
	}
}

// GetOrderHandler returns one order by ID, terminal or not.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.exec.Get(c.Param("order_id"))
		if err != nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, order)
	}
}

// DailyPnLHandler returns realized P&L for the current trading day.
func (h *GinHandlers) DailyPnLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"daily_pnl": h.riskMgr.DailyPnL()})
	}
}

// GovernorStatsHandler returns the per-class rate budgets.
func (h *GinHandlers) GovernorStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.governor.Stats())
	}
}

// SurgeCandidatesHandler returns the recent candidate history, oldest first.
func (h *GinHandlers) SurgeCandidatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.pipeline.Recent())
	}
}

// NewRouter assembles the gin engine: public auth and metrics endpoints,
// JWT-protected query routes, and the telemetry websocket.
func NewRouter(cfg config.ServerConfig, authHandlers *auth.GinHandlers, handlers *GinHandlers, hub *telemetry.Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RateLimit())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		queries := v1.Group("")
		queries.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			queries.GET("/positions", handlers.ListPositionsHandler())
			queries.GET("/orders/open", handlers.ListOpenOrdersHandler())
			queries.GET("/orders/:order_id", handlers.GetOrderHandler())
			queries.GET("/pnl/daily", handlers.DailyPnLHandler())
			queries.GET("/governor/stats", handlers.GovernorStatsHandler())
			queries.GET("/surge/candidates", handlers.SurgeCandidatesHandler())
		}
	}

	return router
}

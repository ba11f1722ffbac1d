package world

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aiverse/aiverse-api/internal/types"
	"github.com/aiverse/aiverse-api/pkg/response"
)

// GinHandlers contains the HTTP handlers for the world API.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type joinRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

// JoinHandler handles POST requests to register a new agent.
func (h *GinHandlers) JoinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		agent, err := h.service.Join(req.AgentID, req.Name)
		response.Handle(c, agent, err)
	}
}

// GetAgentHandler handles GET requests for one agent.
func (h *GinHandlers) GetAgentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := h.service.GetAgent(c.Param("agent_id"))
		response.Handle(c, agent, err)
	}
}

// ListAgentsHandler handles GET requests for all agents.
func (h *GinHandlers) ListAgentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.ListAgents())
	}
}

// LeaderboardHandler handles GET requests for the net-worth ranking.
func (h *GinHandlers) LeaderboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 10)
		response.Success(c, h.service.Leaderboard(limit))
	}
}

type foundCompanyRequest struct {
	FounderID   string `json:"founder_id" binding:"required"`
	Ticker      string `json:"ticker" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ServiceType string `json:"service_type"`
	// ServiceCostCents is the price of one service use in cents of ₳,
	// the same unit every monetary field on the wire uses.
	ServiceCostCents int64 `json:"service_cost_cents"`
}

// FoundCompanyHandler handles POST requests to create a company.
func (h *GinHandlers) FoundCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req foundCompanyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		comp, err := h.service.FoundCompany(
			req.FounderID, req.Ticker, req.Name, req.Description,
			req.ServiceType, types.Amount(req.ServiceCostCents),
		)
		response.Handle(c, comp, err)
	}
}

// GetCompanyHandler handles GET requests for one company.
func (h *GinHandlers) GetCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		comp, err := h.service.GetCompany(c.Param("ticker"))
		response.Handle(c, comp, err)
	}
}

// ListCompaniesHandler handles GET requests for all companies.
func (h *GinHandlers) ListCompaniesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.ListCompanies())
	}
}

type ipoRequest struct {
	Shares int64 `json:"shares" binding:"required"`
	// PriceCents is the offer price per share in cents of ₳.
	PriceCents int64 `json:"price_cents" binding:"required"`
}

// LaunchIPOHandler handles POST requests to take a company public.
func (h *GinHandlers) LaunchIPOHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ipoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.LaunchIPO(c.Param("ticker"), req.Shares, types.Amount(req.PriceCents))
		response.Handle(c, gin.H{"ticker": c.Param("ticker")}, err)
	}
}

type useServiceRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// UseServiceHandler handles POST requests for a paid service use.
func (h *GinHandlers) UseServiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req useServiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cost, err := h.service.UseService(c.Param("ticker"), req.AgentID)
		response.Handle(c, gin.H{"cost": cost}, err)
	}
}

type orderRequest struct {
	AgentID  string `json:"agent_id" binding:"required"`
	Ticker   string `json:"ticker" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
	// PriceCents is the limit price in cents of ₳. Zero or omitted
	// means market.
	PriceCents int64 `json:"price_cents"`
}

// SubmitOrderHandler handles POST requests to place an order.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.SubmitOrder(
			req.AgentID, req.Ticker, types.Side(req.Side),
			req.Quantity, types.Amount(req.PriceCents),
		)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for one order.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

type cancelOrderRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// CancelOrderHandler handles DELETE requests to withdraw an order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.CancelOrder(c.Param("order_id"), req.AgentID)
		response.Handle(c, gin.H{"order_id": c.Param("order_id")}, err)
	}
}

// GetMarketHandler handles GET requests for one ticker's market data.
func (h *GinHandlers) GetMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := h.service.GetMarket(c.Param("ticker"))
		response.Handle(c, data, err)
	}
}

// ListTradesHandler handles GET requests for recent trades.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		response.Success(c, h.service.ListTrades(c.Query("ticker"), limit))
	}
}

// ListNewsHandler handles GET requests for the news feed.
func (h *GinHandlers) ListNewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 20)
		response.Success(c, h.service.ListNews(limit))
	}
}

// StateHandler handles GET requests for the world summary.
func (h *GinHandlers) StateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.GetState())
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

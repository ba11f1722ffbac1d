package world

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverse/aiverse-api/internal/types"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	svc := newTestService(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewGinHandlers(svc)
	router.POST("/api/v1/companies", h.FoundCompanyHandler())
	router.POST("/api/v1/companies/:ticker/ipo", h.LaunchIPOHandler())
	router.POST("/api/v1/orders", h.SubmitOrderHandler())
	return router, svc
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// Every monetary field on the wire is denominated in cents of ₳.
func TestWireMoneyIsCents(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.Join("alice", "Alice")
	require.NoError(t, err)
	// Income ticks cover the founding fee.
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, svc.processor.Tick(i))
	}

	w := postJSON(t, router, "/api/v1/companies", map[string]any{
		"founder_id":         "alice",
		"ticker":             "ctx",
		"name":               "ContextCorp",
		"service_cost_cents": 750,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	comp, err := svc.GetCompany("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(750), comp.ServiceCost)

	w = postJSON(t, router, "/api/v1/companies/CTX/ipo", map[string]any{
		"shares":      1000,
		"price_cents": 1250,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	md, err := svc.GetMarket("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(1250), md.BestAsk)

	w = postJSON(t, router, "/api/v1/orders", map[string]any{
		"agent_id":    "alice",
		"ticker":      "CTX",
		"side":        "BUY",
		"quantity":    2,
		"price_cents": 1250,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var envelope struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, types.Amount(1250), envelope.Data.LimitPrice)
	assert.Equal(t, types.OrderFilled, envelope.Data.Status)
}

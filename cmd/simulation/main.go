package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/exchange"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/settlement"
	"github.com/aiverse/aiverse-api/internal/types"
	"github.com/aiverse/aiverse-api/internal/world"
)

const (
	numAgents      = 20
	numWorkers     = 5
	ordersPerAgent = 10
	serverAddress  = "http://localhost:8080"
)

// init configures the logger for the simulation with pretty printing
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	mu         sync.Mutex
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes min, max, mean, median, p95 and p99 from the
// recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives the world API over HTTP
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"join":    {name: "Join Agent"},
			"order":   {name: "Submit Order"},
			"service": {name: "Use Service"},
			"market":  {name: "Get Market"},
		},
	}
}

// post sends a JSON body and decodes the standard response envelope
// into out when it is non-nil
func (sc *simulationClient) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := sc.client.Post(sc.baseURL+path, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) join(agentID, name string) error {
	start := time.Now()
	defer func() { sc.stats["join"].addDuration(time.Since(start)) }()

	payload := map[string]string{"agent_id": agentID, "name": name}
	if err := sc.post("/api/v1/agents/join", payload, nil); err != nil {
		sc.stats["join"].addFailure()
		return err
	}
	return nil
}

func (sc *simulationClient) submitOrder(agentID, ticker, side string, qty, priceCents int64) (string, error) {
	start := time.Now()
	defer func() { sc.stats["order"].addDuration(time.Since(start)) }()

	payload := map[string]any{
		"agent_id":    agentID,
		"ticker":      ticker,
		"side":        side,
		"quantity":    qty,
		"price_cents": priceCents,
	}
	var order types.Order
	if err := sc.post("/api/v1/orders", payload, &order); err != nil {
		sc.stats["order"].addFailure()
		return "", err
	}
	return order.OrderID, nil
}

func (sc *simulationClient) useService(agentID, ticker string) error {
	start := time.Now()
	defer func() { sc.stats["service"].addDuration(time.Since(start)) }()

	payload := map[string]string{"agent_id": agentID}
	if err := sc.post("/api/v1/companies/"+ticker+"/use", payload, nil); err != nil {
		sc.stats["service"].addFailure()
		return err
	}
	return nil
}

func (sc *simulationClient) getMarket(ticker string) (*types.MarketData, error) {
	start := time.Now()
	defer func() { sc.stats["market"].addDuration(time.Since(start)) }()

	resp, err := sc.client.Get(sc.baseURL + "/api/v1/market/" + ticker)
	if err != nil {
		sc.stats["market"].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		sc.stats["market"].addFailure()
		return nil, fmt.Errorf("get market failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool             `json:"success"`
		Data    types.MarketData `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// printPerformanceStats outputs formatted statistics for all endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main starts an embedded world server and runs agents against it
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	// Join the trading population.
	agentIDs := make([]string, 0, numAgents)
	for i := 0; i < numAgents; i++ {
		agentID := fmt.Sprintf("sim-agent-%d", i+1)
		if err := simClient.join(agentID, agentID); err != nil {
			log.Error().Err(err).Str("agent_id", agentID).Msg("Failed to join")
			continue
		}
		agentIDs = append(agentIDs, agentID)
	}
	log.Info().Int("agents", len(agentIDs)).Msg("Agents joined")

	tickers := make([]string, 0, len(world.DefaultSeeds))
	for _, seed := range world.DefaultSeeds {
		tickers = append(tickers, seed.Ticker)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ordersByTkr = make(map[string]int)
		sideCounts  = make(map[string]int)
		placed      int
		serviceUses int
	)
	startTime := time.Now()

	// Worker goroutines split the agent population.
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for i := workerID; i < len(agentIDs); i += numWorkers {
				agentID := agentIDs[i]
				for n := 0; n < ordersPerAgent; n++ {
					ticker := tickers[rng.Intn(len(tickers))]

					// Every few actions, consume a service instead.
					if rng.Intn(4) == 0 {
						if err := simClient.useService(agentID, ticker); err == nil {
							mu.Lock()
							serviceUses++
							mu.Unlock()
						}
						continue
					}

					side := "BUY"
					if rng.Intn(3) == 0 {
						side = "SELL"
					}
					qty := int64(rng.Intn(20) + 1)

					var priceCents int64
					if md, err := simClient.getMarket(ticker); err == nil && md.LastPrice > 0 {
						jitter := int64(float64(md.LastPrice) * (rng.Float64()*0.2 - 0.1))
						priceCents = int64(md.LastPrice) + jitter
					}

					orderID, err := simClient.submitOrder(agentID, ticker, side, qty, priceCents)
					if err != nil {
						log.Debug().Err(err).Str("agent_id", agentID).Msg("Order rejected")
						continue
					}

					mu.Lock()
					placed++
					ordersByTkr[ticker]++
					sideCounts[side]++
					mu.Unlock()

					log.Info().
						Str("agent_id", agentID).
						Str("order_id", orderID).
						Str("ticker", ticker).
						Str("side", side).
						Int64("quantity", qty).
						Msg("Order placed")

					time.Sleep(time.Duration(rng.Intn(200)) * time.Millisecond)
				}
			}
		}(w)
	}
	wg.Wait()

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("AIVERSE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Agents:        %d
Orders Placed: %d
Service Uses:  %d
Duration:      %v

Ticker Distribution
-------------------
`, len(agentIDs), placed, serviceUses, duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range ordersByTkr {
		if count > maxCount {
			maxCount = count
		}
	}
	for _, ticker := range tickers {
		count := ordersByTkr[ticker]
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		fmt.Printf("%-8s: %s (%d)\n", ticker, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\nSide Distribution")
	fmt.Println("-----------------")
	for side, count := range sideCounts {
		fmt.Printf("%-4s: %d\n", side, count)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("orders", placed).
		Int("service_uses", serviceUses).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer wires a complete in-process world and serves it
func startServer() error {
	book := ledger.New()
	registry := company.NewRegistry(book, types.Coins(10000))
	feed := news.NewFeed(500)
	engine := exchange.NewEngine(book, registry, feed)
	processor := settlement.NewProcessor(book, registry, feed, settlement.Config{
		Interval:           10 * time.Second,
		UniversalIncome:    types.Coins(1000),
		PayoutRatio:        0.5,
		PriceMoveThreshold: 0.05,
	})
	svc := world.NewService(book, registry, engine, feed, processor, types.Coins(1000))

	if err := svc.SeedCompanies(world.DefaultSeeds); err != nil {
		return fmt.Errorf("failed to seed companies: %w", err)
	}
	go processor.Start(context.Background())

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	handlers := world.NewGinHandlers(svc)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/agents/join", handlers.JoinHandler())
		v1.GET("/agents/:agent_id", handlers.GetAgentHandler())
		v1.POST("/companies", handlers.FoundCompanyHandler())
		v1.POST("/companies/:ticker/use", handlers.UseServiceHandler())
		v1.POST("/orders", handlers.SubmitOrderHandler())
		v1.GET("/market/:ticker", handlers.GetMarketHandler())
		v1.GET("/state", handlers.StateHandler())
	}

	return router.Run(":8080")
}

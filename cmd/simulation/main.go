package main

import (
	"bytes"
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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-api/internal/auth"
	"github.com/ksred/exchange-api/internal/database"
	"github.com/ksred/exchange-api/internal/trades"
	"github.com/ksred/exchange-api/internal/trading"
	"github.com/ksred/exchange-api/internal/types"
	"github.com/ksred/exchange-api/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
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
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the exchange API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"create":    {name: "Create Order"},
			"get":       {name: "Get Order"},
			"orderbook": {name: "Order Book"},
			"trades":    {name: "Symbol Trades"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// orderOutcome captures what a single submission produced
type orderOutcome struct {
	OrderID string
	Symbol  string
	Side    string
	Status  string
	Trades  []types.Trade
}

// createOrder submits a new order to the API
// Returns the final order state and any trades it produced
func (sc *simulationClient) createOrder(req *trading.CreateOrderRequest) (*orderOutcome, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    trading.PlaceOrderResult `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.Order == nil || result.Data.Order.OrderID == "" {
		return nil, fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return &orderOutcome{
		OrderID: result.Data.Order.OrderID,
		Symbol:  result.Data.Order.Symbol,
		Side:    result.Data.Order.Side,
		Status:  result.Data.Order.Status,
		Trades:  result.Data.Trades,
	}, nil
}

// getOrder retrieves the current status of an order
func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Get order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getOrderBook fetches the current book snapshot for a symbol
func (sc *simulationClient) getOrderBook(symbol string) (*types.OrderBook, error) {
	start := time.Now()
	defer func() {
		sc.stats["orderbook"].addDuration(time.Since(start))
	}()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/orderbook/%s", sc.baseURL, symbol))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get order book failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool            `json:"success"`
		Data    types.OrderBook `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getSymbolTrades fetches the most recent trades for a symbol
func (sc *simulationClient) getSymbolTrades(symbol string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["trades"].addDuration(time.Since(start))
	}()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/trades/symbol/%s", sc.baseURL, symbol))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get trades failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data.Count, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
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

// main runs the exchange simulation
// It starts a local API server and simulates multiple concurrent trading clients
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect order outcomes
	outcomesChan := make(chan *orderOutcome, targetOrders)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createOrdersHTTP(workerID, targetOrders/numWorkers, simClient, outcomesChan)
		}(i)
	}

	// Wait for all orders to be created
	wg.Wait()
	close(outcomesChan)

	// Collect statistics during processing
	stats := struct {
		TotalOrders    int
		FilledOrders   int
		PartialOrders  int
		RestingOrders  int
		RejectedOrders int
		TotalTrades    int
		TotalValue     float64
		StartTime      time.Time
		Symbols        map[string]int
		Sides          map[string]int
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}

	var outcomes []*orderOutcome
	for outcome := range outcomesChan {
		outcomes = append(outcomes, outcome)
		stats.TotalOrders++
		stats.Symbols[outcome.Symbol]++
		stats.Sides[outcome.Side]++
		stats.TotalTrades += len(outcome.Trades)
		for _, trade := range outcome.Trades {
			stats.TotalValue += trade.Price * trade.Quantity
		}

		switch outcome.Status {
		case types.StatusFilled:
			stats.FilledOrders++
		case types.StatusPartiallyFilled:
			stats.PartialOrders++
		case types.StatusRejected:
			stats.RejectedOrders++
		default:
			stats.RestingOrders++
		}
	}

	log.Info().Int("orders_created", len(outcomes)).Msg("All orders created")

	// Re-check a sample of orders so fills recorded by later matches are counted
	for i, outcome := range outcomes {
		if i%10 != 0 {
			continue
		}
		order, err := simClient.getOrder(outcome.OrderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", outcome.OrderID).Msg("Failed to fetch order")
			continue
		}
		log.Info().
			Str("order_id", order.OrderID).
			Str("status", order.Status).
			Float64("filled_quantity", order.FilledQuantity).
			Msg("Order state")
	}

	// Inspect per-symbol market data
	for _, symbol := range symbols {
		book, err := simClient.getOrderBook(symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch order book")
			continue
		}

		tradeCount, err := simClient.getSymbolTrades(symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch trades")
			continue
		}

		log.Info().
			Str("symbol", symbol).
			Int("bids", len(book.Bids)).
			Int("asks", len(book.Asks)).
			Int("trades", tradeCount).
			Msg("Market snapshot")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 EXCHANGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Order Statistics
------------------
Total Orders:     %d
Filled:           %d
Partially Filled: %d
Resting:          %d
Rejected:         %d
Trades Executed:  %d
Total Value:      $%.2f
Duration:         %v

📈 Symbol Distribution
--------------------
`, stats.TotalOrders, stats.FilledOrders, stats.PartialOrders, stats.RestingOrders,
		stats.RejectedOrders, stats.TotalTrades, stats.TotalValue,
		duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-6s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Match rate calculation
	matchRate := float64(stats.FilledOrders+stats.PartialOrders) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("match_rate", matchRate).
		Int("total_orders", stats.TotalOrders).
		Int("total_trades", stats.TotalTrades).
		Float64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createOrdersHTTP generates and submits random orders to the API
// Runs as a worker goroutine, sending outcomes to outcomesChan
func createOrdersHTTP(workerID, numOrders int, simClient *simulationClient, outcomesChan chan<- *orderOutcome) {
	for i := 0; i < numOrders; i++ {
		req := &trading.CreateOrderRequest{
			UserID:    fmt.Sprintf("CLIENT_%d", workerID),
			Symbol:    symbols[rand.Intn(len(symbols))],
			Side:      sides[rand.Intn(len(sides))],
			OrderType: types.TypeLimit,
			Quantity:  float64(rand.Intn(100) + 1),
		}

		// Mostly limit orders so the books build up, with occasional
		// market orders to sweep them
		if rand.Intn(4) == 0 {
			req.OrderType = types.TypeMarket
		} else {
			price := float64(rand.Intn(1000) + 100)
			req.Price = &price
		}

		outcome, err := simClient.createOrder(req)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("symbol", req.Symbol).
				Msg("Failed to create order")
			continue
		}

		outcomesChan <- outcome
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("order_id", outcome.OrderID).
			Str("symbol", outcome.Symbol).
			Str("side", outcome.Side).
			Str("status", outcome.Status).
			Int("trades", len(outcome.Trades)).
			Msg("Order created")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the exchange API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(middleware.JWTSecret())
	tradingService := trading.NewService(db)
	tradesService := trades.NewService(db)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(tradingService)
	tradesHandlers := trades.NewGinHandlers(tradesService)

	// Setup routes
	setupRoutes(router, authHandlers, tradingHandlers, tradesHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	tradesHandlers *trades.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", tradingHandlers.CreateOrderHandler())
			orders.GET("/pending", tradingHandlers.GetPendingOrdersHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
		}

		// Market data routes
		v1.GET("/orderbook/:symbol", tradingHandlers.GetOrderBookHandler())

		tradesGroup := v1.Group("/trades")
		{
			tradesGroup.GET("", tradesHandlers.GetRecentTradesHandler())
			tradesGroup.GET("/symbol/:symbol", tradesHandlers.GetTradesBySymbolHandler())
			tradesGroup.GET("/order/:order_id", tradesHandlers.GetTradesByOrderHandler())
		}
	}
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goodsale_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Sales metrics
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_orders_total",
			Help: "Total number of order operations",
		},
		[]string{"operation"}, // create, status_change, complete, cancel
	)

	orderValue = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goodsale_order_value_baht",
			Help:    "Order totals in baht",
			Buckets: []float64{20, 50, 100, 200, 500, 1000, 2000, 5000},
		},
	)

	paymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_payments_total",
			Help: "Total number of payments",
		},
		[]string{"method", "status"}, // cash/qr_code, completed/expired/cancelled
	)

	stockAlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodsale_stock_alerts_active",
			Help: "Number of stock items at or below their low stock threshold",
		},
	)

	loyaltyPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_loyalty_points_total",
			Help: "Loyalty points moved",
		},
		[]string{"direction"}, // earned, redeemed
	)

	storesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodsale_stores_open",
			Help: "Number of stores currently open",
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodsale_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodsale_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodsale_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Redis metrics
	redisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation"}, // get, set, del, exists
	)

	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_cache_requests_total",
			Help: "Cache lookups by outcome",
		},
		[]string{"cache", "outcome"}, // menu/report, hit/miss
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodsale_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // auth, database, redis, payment, validation
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// IncrementOrderOperation increments the order operation counter
func IncrementOrderOperation(operation string) {
	ordersTotal.WithLabelValues(operation).Inc()
}

// ObserveOrderValue records a completed order total
func ObserveOrderValue(totalBaht float64) {
	orderValue.Observe(totalBaht)
}

// IncrementPayment increments the payment counter
func IncrementPayment(method, status string) {
	paymentsTotal.WithLabelValues(method, status).Inc()
}

// UpdateStockAlerts updates the low-stock gauge
func UpdateStockAlerts(count int) {
	stockAlertsActive.Set(float64(count))
}

// IncrementLoyaltyPoints records earned or redeemed points
func IncrementLoyaltyPoints(direction string, points int) {
	if points < 0 {
		points = -points
	}
	loyaltyPointsTotal.WithLabelValues(direction).Add(float64(points))
}

// UpdateStoresOpen updates the open stores gauge
func UpdateStoresOpen(count int) {
	storesOpen.Set(float64(count))
}

// UpdateWebSocketConnections updates WebSocket connections gauge
func UpdateWebSocketConnections(count int) {
	websocketConnections.Set(float64(count))
}

// UpdateDatabaseMetrics updates database connection metrics
func UpdateDatabaseMetrics(active, idle int) {
	dbConnectionsActive.Set(float64(active))
	dbConnectionsIdle.Set(float64(idle))
}

// IncrementRedisOperation increments Redis operation counter
func IncrementRedisOperation(operation string) {
	redisOperationsTotal.WithLabelValues(operation).Inc()
}

// IncrementCacheRequest records a cache hit or miss
func IncrementCacheRequest(cache, outcome string) {
	cacheRequestsTotal.WithLabelValues(cache, outcome).Inc()
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

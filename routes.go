package main

import (
	"context"
	"strings"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "goodsale/config"
	appcrypto "goodsale/crypto"
	"goodsale/handlers"
	"goodsale/metrics"
	"goodsale/middleware"
	appserver "goodsale/server"
	"goodsale/services"
	websocketpkg "goodsale/websocket"
)

// setupRoutes configures all API routes and middleware for the application
func setupRoutes(app *fiber.App, db *pgxpool.Pool, rdb *redis.Client, crypto *appcrypto.CryptoService, config *appconfig.Config, hub *websocketpkg.Hub, notifier *services.LINENotifier, startTime time.Time, readyState *appserver.ReadyState) {
	// Security middleware
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge: func() int {
			if appconfig.GetEnvOrDefault("APP_ENV", "development") == "production" {
				return 31536000
			}
			return 0
		}(),
		HSTSPreloadEnabled: appconfig.GetEnvOrDefault("APP_ENV", "development") == "production",
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' 'strict-dynamic' 'nonce-{random}'; " +
			"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
			"font-src 'self' https://fonts.gstatic.com data:; " +
			"img-src 'self' data: https: blob:; " +
			"connect-src 'self' ws: wss:; " +
			"media-src 'self' blob:; " +
			"object-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'; " +
			"form-action 'self'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	// CSRF protection. Webhooks and the customer display are token-based or
	// public and cannot carry a CSRF cookie.
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-CSRF-Token",
		CookieName:     "csrf_token",
		CookieSameSite: "Strict",
		CookieSecure:   true,
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		KeyGenerator:   uuid.NewString,
		ContextKey:     "csrf",
		Next: func(c *fiber.Ctx) bool {
			method := c.Method()
			path := c.Path()
			return method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions ||
				strings.HasPrefix(path, "/api/v1/health") ||
				strings.HasPrefix(path, "/api/v1/auth/") ||
				strings.HasPrefix(path, "/api/v1/webhooks/") ||
				strings.HasPrefix(path, "/api/v1/display/") ||
				strings.HasPrefix(path, "/ws")
		},
	}))

	// CORS configuration
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(config.AllowedOrigins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders:    "X-CSRF-Token",
	}))

	// Optional Prometheus metrics
	if appconfig.GetEnvAsBool("ENABLE_METRICS", false) {
		app.Use(metrics.PrometheusMiddleware())
	}

	// Initialize rate limiters
	rateLimits := middleware.NewRateLimitConfig(rdb)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, rdb, crypto, config)
	storesHandler := handlers.NewStoresHandler(db)
	packagesHandler := handlers.NewPackagesHandler(db)
	menuHandler := handlers.NewMenuHandler(db, rdb)
	ordersHandler := handlers.NewOrdersHandler(db, hub)
	stockHandler := handlers.NewStockHandler(db, hub)
	loyaltyHandler := handlers.NewLoyaltyHandler(db, crypto)
	paymentsHandler := handlers.NewPaymentsHandler(db, rdb, config, hub, notifier)
	reportsHandler := handlers.NewReportsHandler(db, rdb)
	displayHandler := handlers.NewDisplayHandler(db, hub)

	// API group
	api := app.Group("/api/v1")

	// Liveness and readiness are registered by the server package; this is
	// the full health check with component detail.
	api.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health := fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"uptime":    time.Since(startTime).String(),
		}

		var userCount int
		dbHealthy := true
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
			dbHealthy = false
			health["database"] = "unhealthy"
			health["database_error"] = err.Error()
		} else {
			health["database"] = "healthy"
			health["user_count"] = userCount
		}

		redisHealthy := true
		if err := rdb.Ping(ctx).Err(); err != nil {
			redisHealthy = false
			health["redis"] = "unhealthy"
			health["redis_error"] = err.Error()
		} else {
			health["redis"] = "healthy"
		}

		if !dbHealthy || !redisHealthy {
			health["status"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		return c.JSON(health)
	})

	// Swagger documentation endpoints
	api.Get("/docs", swaggerUIHandler)
	api.Get("/docs/openapi.json", swaggerJSONHandler)
	app.Get("/swagger", swaggerUIHandler)
	app.Get("/swagger/openapi.json", swaggerJSONHandler)

	// Authentication routes (public) - strictest rate limiting
	api.Post("/auth/register", rateLimits.RegisterLimiter, authHandler.Register)
	api.Post("/auth/login", rateLimits.AuthLimiter, authHandler.Login)
	api.Get("/auth/registration", func(c *fiber.Ctx) error {
		var dbVal string
		if err := db.QueryRow(c.Context(), `SELECT value FROM app_settings WHERE key='registration_enabled'`).Scan(&dbVal); err == nil {
			if strings.ToLower(strings.TrimSpace(dbVal)) == "true" {
				appconfig.RegEnabled.Store(1)
			} else {
				appconfig.RegEnabled.Store(0)
			}
		}
		return c.JSON(fiber.Map{"enabled": appconfig.RegEnabled.Load() == 1})
	})

	// LINE webhook (public, HMAC-verified)
	api.Post("/webhooks/line", rateLimits.WebhookLimiter, paymentsHandler.LINEWebhook)

	// Customer display content (public, read-only)
	api.Get("/display/:store_id", rateLimits.DisplayLimiter, displayHandler.GetDisplayContent)

	// Protected routes (require JWT)
	protected := api.Group("", middleware.JWTMiddleware(config.JWTSecret, rdb, crypto))

	// Session and profile
	protected.Post("/auth/logout", rateLimits.LightweightLimiter, authHandler.Logout)
	protected.Get("/auth/me", rateLimits.LightweightLimiter, authHandler.Me)

	// MFA routes
	protected.Get("/auth/mfa/status", rateLimits.LightweightLimiter, authHandler.GetMFAStatus)
	protected.Post("/auth/mfa/begin", rateLimits.AuthLimiter, authHandler.BeginMFASetup)
	protected.Post("/auth/mfa/enable", rateLimits.MFAVerifyLimiter, authHandler.EnableMFA)
	protected.Post("/auth/mfa/disable", rateLimits.MFAVerifyLimiter, authHandler.DisableMFA)

	// Package catalog and subscriptions
	protected.Get("/packages", rateLimits.LightweightLimiter, packagesHandler.GetPackages)
	protected.Post("/packages/:id/subscribe", rateLimits.StandardCRUDLimiter, packagesHandler.Subscribe)
	protected.Get("/subscription", rateLimits.LightweightLimiter, packagesHandler.CurrentSubscription)

	// Store management
	protected.Get("/stores", rateLimits.StandardCRUDLimiter, storesHandler.GetStores)
	protected.Post("/stores", rateLimits.StandardCRUDLimiter, storesHandler.CreateStore)

	// Store-scoped routes: access is checked once and the store id is
	// stashed in locals for every handler below.
	store := protected.Group("/stores/:store_id", middleware.RequireStoreAccess(db, "store_id"))

	store.Get("/", rateLimits.StandardCRUDLimiter, storesHandler.GetStore)
	store.Put("/", rateLimits.StandardCRUDLimiter, storesHandler.UpdateStore)
	store.Delete("/", rateLimits.StandardCRUDLimiter, storesHandler.DeleteStore)
	store.Post("/open", rateLimits.StandardCRUDLimiter, storesHandler.OpenStore)
	store.Post("/close", rateLimits.StandardCRUDLimiter, storesHandler.CloseStore)
	store.Get("/dashboard", rateLimits.LightweightLimiter, storesHandler.Dashboard)
	store.Get("/staff", rateLimits.StandardCRUDLimiter, storesHandler.GetStaff)
	store.Post("/staff", rateLimits.StandardCRUDLimiter, middleware.RequireRole(db, "owner"), storesHandler.AssignStaff)
	store.Delete("/staff/:user_id", rateLimits.StandardCRUDLimiter, middleware.RequireRole(db, "owner"), storesHandler.RemoveStaff)

	// Menu routes
	store.Get("/menu", rateLimits.LightweightLimiter, menuHandler.GetMenu)
	store.Post("/menu/categories", rateLimits.StandardCRUDLimiter, menuHandler.CreateCategory)
	store.Delete("/menu/categories/:category_id", rateLimits.StandardCRUDLimiter, menuHandler.DeleteCategory)
	store.Post("/menu/items", rateLimits.StandardCRUDLimiter, menuHandler.CreateMenuItem)
	store.Put("/menu/items/:item_id", rateLimits.StandardCRUDLimiter, menuHandler.UpdateMenuItem)
	store.Delete("/menu/items/:item_id", rateLimits.StandardCRUDLimiter, menuHandler.DeleteMenuItem)
	store.Post("/menu/items/:item_id/toppings", rateLimits.StandardCRUDLimiter, menuHandler.AddTopping)
	store.Delete("/menu/toppings/:topping_id", rateLimits.StandardCRUDLimiter, menuHandler.RemoveTopping)
	store.Post("/menu/items/:item_id/sizes", rateLimits.StandardCRUDLimiter, menuHandler.AddSize)
	store.Delete("/menu/sizes/:size_id", rateLimits.StandardCRUDLimiter, menuHandler.RemoveSize)
	store.Put("/menu/sweetness", rateLimits.StandardCRUDLimiter, menuHandler.SetSweetnessLevels)

	// Order routes
	store.Post("/orders", rateLimits.OrderWriteLimiter, ordersHandler.CreateOrder)
	store.Get("/orders", rateLimits.StandardCRUDLimiter, ordersHandler.GetOrders)
	store.Get("/orders/kitchen", rateLimits.LightweightLimiter, middleware.RequireRole(db, "kitchen"), ordersHandler.KitchenOrders)
	store.Get("/orders/:order_id", rateLimits.StandardCRUDLimiter, ordersHandler.GetOrder)
	store.Patch("/orders/:order_id/status", rateLimits.OrderWriteLimiter, ordersHandler.UpdateOrderStatus)
	store.Post("/orders/:order_id/slip", rateLimits.SlipUploadLimiter, ordersHandler.UploadSlip)

	// Payment routes
	store.Post("/payments/qr", rateLimits.PaymentLimiter, paymentsHandler.CreateQRPayment)
	store.Get("/payments/:order_id", rateLimits.LightweightLimiter, paymentsHandler.GetPaymentStatus)
	store.Post("/payments/:order_id/verify", rateLimits.PaymentLimiter, paymentsHandler.VerifyPayment)
	store.Post("/payments/:order_id/cancel", rateLimits.PaymentLimiter, paymentsHandler.CancelPayment)
	store.Post("/payments/:order_id/cash", rateLimits.PaymentLimiter, paymentsHandler.RecordCashPayment)

	// Stock routes
	store.Get("/stock", rateLimits.StandardCRUDLimiter, stockHandler.GetProducts)
	store.Post("/stock", rateLimits.StandardCRUDLimiter, stockHandler.CreateProduct)
	store.Get("/stock/alerts", rateLimits.LightweightLimiter, stockHandler.GetAlerts)
	store.Get("/stock/barcode/:barcode", rateLimits.LightweightLimiter, stockHandler.ScanBarcode)
	store.Get("/stock/movements", rateLimits.StandardCRUDLimiter, stockHandler.GetMovements)
	store.Delete("/stock/:product_id", rateLimits.StandardCRUDLimiter, stockHandler.DeleteProduct)
	store.Post("/stock/:product_id/adjust", rateLimits.StandardCRUDLimiter, stockHandler.AdjustStock)

	// Loyalty routes
	store.Get("/loyalty/rewards", rateLimits.LightweightLimiter, loyaltyHandler.GetRewards)
	store.Get("/loyalty/tiers", rateLimits.LightweightLimiter, loyaltyHandler.GetTiers)
	store.Post("/loyalty/members", rateLimits.StandardCRUDLimiter, loyaltyHandler.CreateMember)
	store.Get("/loyalty/members/search", rateLimits.LightweightLimiter, loyaltyHandler.SearchByPhone)
	store.Get("/loyalty/members/:member_ref", rateLimits.LightweightLimiter, loyaltyHandler.GetMember)
	store.Post("/loyalty/members/:member_ref/earn", rateLimits.StandardCRUDLimiter, loyaltyHandler.EarnPoints)
	store.Post("/loyalty/members/:member_ref/redeem", rateLimits.StandardCRUDLimiter, loyaltyHandler.RedeemPoints)
	store.Get("/loyalty/members/:member_ref/history", rateLimits.StandardCRUDLimiter, loyaltyHandler.GetHistory)

	// Report routes
	store.Get("/reports/daily", rateLimits.ReportLimiter, reportsHandler.DailySales)
	store.Get("/reports/best-sellers", rateLimits.ReportLimiter, reportsHandler.BestSellers)
	store.Get("/reports/range", rateLimits.ReportLimiter, reportsHandler.SalesRange)
	store.Get("/reports/export", rateLimits.ReportLimiter, reportsHandler.ExportCSV)

	// Customer display management
	store.Get("/display/ads", rateLimits.StandardCRUDLimiter, displayHandler.GetAds)
	store.Post("/display/ads", rateLimits.StandardCRUDLimiter, displayHandler.CreateAd)
	store.Put("/display/ads/:ad_id", rateLimits.StandardCRUDLimiter, displayHandler.UpdateAd)
	store.Delete("/display/ads/:ad_id", rateLimits.StandardCRUDLimiter, displayHandler.DeleteAd)
	store.Get("/display/settings", rateLimits.LightweightLimiter, displayHandler.GetDisplaySettings)
	store.Put("/display/settings", rateLimits.StandardCRUDLimiter, displayHandler.UpdateDisplaySettings)

	// WebSocket endpoint: staff and kitchen authenticate with a query token,
	// the customer display joins its store room without one.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", fiberws.New(func(conn *fiberws.Conn) {
		websocketpkg.HandleWebSocket(conn, hub, db, config.JWTSecret)
	}))
}

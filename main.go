// GoodSale API
//
// GoodSale is a point of sale backend for Thai restaurants, coffee shops
// and grocery stores. It serves the till, the kitchen screen and the
// customer display from one API, with PromptPay QR payments and LINE
// notifications.
//
// @title GoodSale API
// @version 1.0
// @BasePath /api/v1
package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "goodsale/config"
	appcrypto "goodsale/crypto"
	"goodsale/database"
	"goodsale/middleware"
	appserver "goodsale/server"
	"goodsale/services"
	"goodsale/utils"
	websocketpkg "goodsale/websocket"
)

func main() {
	utils.InitLogging()

	config := appconfig.LoadConfig()
	utils.TrustProxyHeaders.Store(config.TrustProxyHeaders)

	startTime := time.Now()

	// Registration runtime toggle from env (default true)
	envRegRaw, envRegExplicit := os.LookupEnv("ENABLE_REGISTRATION")
	envRegValue := strings.ToLower(strings.TrimSpace(envRegRaw))
	if !envRegExplicit || envRegValue == "" {
		envRegValue = "true"
	}
	if envRegValue == "true" {
		appconfig.RegEnabled.Store(1)
	} else {
		appconfig.RegEnabled.Store(0)
	}

	// Setup database with automatic migrations
	db, err := database.SetupDatabase(config.DatabaseURL)
	if err != nil {
		log.Fatal("Database setup failed:", err)
	}
	defer db.Close()

	// Setup Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisURL,
		Password: config.RedisPassword,
		DB:       0,
	})
	defer func() { _ = rdb.Close() }()

	// Initialize crypto service
	crypto := appcrypto.NewCryptoService(config.EncryptionKey)

	readyState := appserver.NewReadyState(db, crypto, config, rdb)
	app := appserver.CreateFiberApp(startTime, readyState)

	// WebSocket hub for store rooms (staff, kitchen, customer display)
	hub := websocketpkg.NewHub()
	go hub.Run()
	readyState.MarkHubReady()

	// LINE push channel for payment alerts and daily summaries (optional)
	notifier := services.NewLINENotifier(config.LINEChannelToken, config.LINERecipientID)

	setupRoutes(app, db, rdb, crypto, config, hub, notifier, startTime, readyState)

	// Prometheus metrics endpoint (if enabled)
	if appconfig.GetEnvAsBool("ENABLE_METRICS", false) {
		app.Get("/metrics", prometheusHandler())
	}

	// Admin allowlist with optional hot reload from a mounted file
	startAdminAllowlistRefresher()

	// Background initialization so the server can bind immediately
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️ Redis not reachable at startup: %v", err)
		}
		readyState.MarkRedisReady()

		services.SeedDefaults(ctx, db, crypto, config)
		readyState.MarkSeedReady()
	}()

	// Hourly maintenance: lockout resets, subscription expiry, ad windows,
	// store auto-close with LINE daily summaries
	services.StartCleanupService(db, notifier)

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("Shutting down...")
		hub.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Shutdown error: %v", err)
		}
	}()

	if err := appserver.ListenWithIPv6Fallback(app, config.Port, startTime); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}

// prometheusHandler bridges promhttp onto a Fiber route
func prometheusHandler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		req := &http.Request{
			Method:     c.Method(),
			URL:        &url.URL{Path: c.Path(), RawQuery: string(c.Request().URI().QueryString())},
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(c.Body())),
			Host:       string(c.Request().Host()),
			RequestURI: c.OriginalURL(),
		}
		c.Request().Header.VisitAll(func(key, value []byte) {
			req.Header.Add(string(key), string(value))
		})

		w := appserver.NewFiberResponseWriter(c)
		handler.ServeHTTP(w, req)
		return nil
	}
}

// startAdminAllowlistRefresher loads the admin allowlist and re-reads it
// periodically when a file source is configured.
func startAdminAllowlistRefresher() {
	envList := os.Getenv("ADMIN_USER_IDS")
	filePath := os.Getenv("ADMIN_ALLOWLIST_FILE")

	allowlist, fingerprint := middleware.LoadAllowlistFromSources(envList, filePath)
	middleware.StoreAllowlist(allowlist)

	if filePath == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		last := fingerprint
		for range ticker.C {
			next, nextFingerprint := middleware.LoadAllowlistFromSources(envList, filePath)
			if nextFingerprint != last {
				middleware.StoreAllowlist(next)
				last = nextFingerprint
				log.Printf("🔐 Admin allowlist reloaded (%d entries)", len(next))
			}
		}
	}()
}

package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"goodsale/utils"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	AuthLimiter         fiber.Handler
	RegisterLimiter     fiber.Handler
	MFAVerifyLimiter    fiber.Handler
	PaymentLimiter      fiber.Handler
	WebhookLimiter      fiber.Handler
	SlipUploadLimiter   fiber.Handler
	ReportLimiter       fiber.Handler
	OrderWriteLimiter   fiber.Handler
	StandardCRUDLimiter fiber.Handler
	DisplayLimiter      fiber.Handler
	LightweightLimiter  fiber.Handler
}

// NewRateLimitConfig creates all rate limiters using Redis storage
func NewRateLimitConfig(rdb *redis.Client) *RateLimitConfig {
	// Create Redis storage instance for distributed rate limiting from existing client
	storage := redisstorage.NewFromConnection(rdb)

	// Tier 1: Auth Endpoints (Strictest - Prevent brute force)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 5 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many authentication attempts. Please try again later.",
			})
		},
	})

	registerLimiter := limiter.New(limiter.Config{
		Max:        5,
		Expiration: 15 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many registration attempts. Please try again later.",
			})
		},
	})

	mfaVerifyLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 5 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many MFA verification attempts. Please try again later.",
			})
		},
	})

	// Tier 2: Money movement (QR creation, verification, refund paths)
	paymentLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many payment requests. Please try again later.",
			})
		},
	})

	// LINE delivers webhooks in bursts after downtime
	webhookLimiter := limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many webhook deliveries. Please try again later.",
			})
		},
	})

	slipUploadLimiter := limiter.New(limiter.Config{
		Max:        20,
		Expiration: 5 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many slip upload requests. Please try again later.",
			})
		},
	})

	// Tier 3: Heavy Operations (Resource intensive)
	reportLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many report requests. Please try again later.",
			})
		},
	})

	// Tier 4: Standard CRUD (Normal usage)
	orderWriteLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many order requests. Please try again later.",
			})
		},
	})

	standardCRUDLimiter := limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	})

	// Customer display screens poll their content loop continuously
	displayLimiter := limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many display requests. Please try again later.",
			})
		},
	})

	// Tier 5: Read-Only/Lightweight (Liberal)
	lightweightLimiter := limiter.New(limiter.Config{
		Max:        200,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	})

	return &RateLimitConfig{
		AuthLimiter:         authLimiter,
		RegisterLimiter:     registerLimiter,
		MFAVerifyLimiter:    mfaVerifyLimiter,
		PaymentLimiter:      paymentLimiter,
		WebhookLimiter:      webhookLimiter,
		SlipUploadLimiter:   slipUploadLimiter,
		ReportLimiter:       reportLimiter,
		OrderWriteLimiter:   orderWriteLimiter,
		StandardCRUDLimiter: standardCRUDLimiter,
		DisplayLimiter:      displayLimiter,
		LightweightLimiter:  lightweightLimiter,
	}
}

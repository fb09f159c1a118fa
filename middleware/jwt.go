package middleware

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goodsale/utils"
)

// CryptoService interface for encryption operations
type CryptoService interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// sessionRecord mirrors the payload handlers write to Redis at login
type sessionRecord struct {
	UserID string `json:"user_id"`
}

// JWTMiddleware creates a Fiber middleware for JWT token validation.
// It validates the token signature, requires a live Redis session for the
// token, and sets the user ID in the request context.
func JWTMiddleware(secret []byte, rdb *redis.Client, crypto CryptoService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("Authorization")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing authorization"})
		}

		token = strings.TrimPrefix(token, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})

		if err != nil || !parsed.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims := parsed.Claims.(jwt.MapClaims)

		// Safely extract user_id claim
		userIDClaim, exists := claims["user_id"]
		if !exists {
			return c.Status(401).JSON(fiber.Map{"error": "Missing user_id claim"})
		}

		userIDStr, ok := userIDClaim.(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id claim type"})
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id format"})
		}

		// A valid signature is not enough: logout revokes the Redis session
		encrypted, err := rdb.Get(c.Context(), utils.SessionKey(token)).Bytes()
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Session expired"})
		}
		payload, err := crypto.Decrypt(encrypted)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Session invalid"})
		}
		var session sessionRecord
		if err := json.Unmarshal(payload, &session); err != nil || session.UserID != userID.String() {
			return c.Status(401).JSON(fiber.Map{"error": "Session invalid"})
		}

		// Set user ID in context for subsequent middleware
		c.Locals("user_id", userID)

		return c.Next()
	}
}

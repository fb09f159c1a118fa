package handlers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"goodsale/config"
	"goodsale/crypto"
	"goodsale/database"
	"goodsale/metrics"
	"goodsale/utils"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	db     database.Database
	redis  *redis.Client
	crypto *crypto.CryptoService
	config *config.Config
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(db database.Database, redis *redis.Client, cryptoService *crypto.CryptoService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		db:     db,
		redis:  redis,
		crypto: cryptoService,
		config: cfg,
	}
}

// SessionData structure for Redis storage
type SessionData struct {
	UserID string `json:"user_id"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Phone    string `json:"phone,omitempty"`
	POSType  string `json:"pos_type,omitempty"`
	Role     string `json:"role,omitempty"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// storeSession writes the encrypted session record a token must match on every request
func (h *AuthHandler) storeSession(ctx context.Context, token string, userID uuid.UUID) error {
	data, err := json.Marshal(SessionData{UserID: userID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	encryptedData, err := h.crypto.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt session data: %w", err)
	}

	return h.redis.Set(ctx, utils.SessionKey(token), encryptedData, h.config.SessionDuration).Err()
}

// Register godoc
// @Summary Register a new user
// @Description Register a new owner, staff, or kitchen account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} map[string]interface{} "User registered successfully"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Email or username already exists"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	// Check if registration is enabled (runtime toggle)
	if config.RegEnabled.Load() != 1 {
		return c.Status(403).JSON(fiber.Map{"error": "Registration is currently disabled"})
	}

	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Username is required"})
	}
	if len(req.Password) < 8 {
		return c.Status(400).JSON(fiber.Map{"error": "Password must be at least 8 characters long"})
	}

	posType := req.POSType
	if posType == "" {
		posType = "restaurant"
	}
	switch posType {
	case "restaurant", "coffee", "grocery":
	default:
		return c.Status(400).JSON(fiber.Map{"error": "Invalid pos_type"})
	}

	role := req.Role
	if role == "" {
		role = "owner"
	}
	switch role {
	case "owner", "staff", "kitchen":
	default:
		return c.Status(400).JSON(fiber.Map{"error": "Invalid role"})
	}

	// Generate salt and hash password
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate credentials"})
	}
	passwordHash := crypto.HashPassword(req.Password, salt)

	// Hash email for uniqueness and login lookups, encrypt it for storage
	emailHash := h.crypto.HashEmail(req.Email)
	encryptedEmail, err := h.crypto.Encrypt([]byte(strings.ToLower(strings.TrimSpace(req.Email))))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to protect account data"})
	}

	var encryptedPhone []byte
	if req.Phone != "" {
		encryptedPhone, err = h.crypto.Encrypt([]byte(req.Phone))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to protect account data"})
		}
	}

	ctx := context.Background()
	var userID uuid.UUID
	err = h.db.QueryRow(ctx, `
        INSERT INTO users (username, email_hash, email_encrypted, phone_encrypted, password_hash, salt, pos_type, role)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`,
		req.Username, emailHash, encryptedEmail, encryptedPhone, passwordHash, salt, posType, role,
	).Scan(&userID)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "Email or username already registered"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	h.logAudit(ctx, userID, "user.registered", "user", userID, c)

	token, err := h.generateToken(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}
	if err := h.storeSession(ctx, token, userID); err != nil {
		log.Printf("Failed to store session in Redis: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	return c.Status(201).JSON(fiber.Map{
		"message":  "Registration successful",
		"token":    token,
		"user_id":  userID,
		"username": req.Username,
		"role":     role,
		"pos_type": posType,
	})
}

// Login godoc
// @Summary User login
// @Description Authenticate user with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} map[string]interface{} "Login successful"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 401 {object} map[string]interface{} "Invalid credentials"
// @Failure 423 {object} map[string]interface{} "Account locked"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()
	emailHash := h.crypto.HashEmail(req.Email)

	var userID uuid.UUID
	var username string
	var passwordHash string
	var userRole string
	var posType string
	var failedAttempts int
	var lockedUntil *time.Time
	var mfaEnabled bool
	var mfaSecret []byte

	err := h.db.QueryRow(ctx, `
        SELECT id, username, password_hash, role, pos_type, failed_attempts, locked_until, mfa_enabled, mfa_secret_encrypted
        FROM users WHERE email_hash = $1 AND deleted_at IS NULL`,
		emailHash,
	).Scan(&userID, &username, &passwordHash, &userRole, &posType, &failedAttempts, &lockedUntil, &mfaEnabled, &mfaSecret)

	if err != nil {
		metrics.IncrementError("auth", "login")
		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	// Check if account is locked with detailed time remaining
	if lockedUntil != nil && lockedUntil.After(time.Now()) {
		return c.Status(423).JSON(fiber.Map{
			"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", lockoutMessage(*lockedUntil)),
			"locked_until":        lockedUntil.Format(time.RFC3339),
			"retry_after_seconds": int(time.Until(*lockedUntil).Seconds()),
		})
	}

	if !crypto.VerifyPassword(req.Password, passwordHash) {
		failedAttempts++

		var lockDuration time.Duration
		if failedAttempts >= 7 {
			lockDuration = 15 * time.Minute
		} else if failedAttempts >= 6 {
			lockDuration = 5 * time.Minute
		} else if failedAttempts >= h.config.MaxLoginAttempts {
			lockDuration = 1 * time.Minute
		}

		if lockDuration > 0 {
			lockUntil := time.Now().Add(lockDuration)
			h.db.Exec(ctx, `
                UPDATE users SET failed_attempts = $1, locked_until = $2
                WHERE id = $3`,
				failedAttempts, lockUntil, userID,
			)
			h.logAudit(ctx, userID, "login.locked", "user", userID, c)

			return c.Status(423).JSON(fiber.Map{
				"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", lockoutMessage(lockUntil)),
				"locked_until":        lockUntil.Format(time.RFC3339),
				"retry_after_seconds": int(time.Until(lockUntil).Seconds()),
			})
		}

		h.db.Exec(ctx, `UPDATE users SET failed_attempts = $1 WHERE id = $2`, failedAttempts, userID)
		h.logAudit(ctx, userID, "login.failed", "user", userID, c)

		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	// Verify MFA if enabled
	if mfaEnabled {
		if strings.TrimSpace(req.MFACode) == "" {
			return c.Status(200).JSON(fiber.Map{"mfa_required": true})
		}
		if len(mfaSecret) == 0 {
			log.Printf("mfa secret missing for user %s", userID)
			return c.Status(500).JSON(fiber.Map{"error": "MFA validation failed"})
		}
		secretBytes, err := h.crypto.Decrypt(mfaSecret)
		if err != nil {
			log.Printf("failed to decrypt mfa secret for user %s: %v", userID, err)
			return c.Status(500).JSON(fiber.Map{"error": "MFA validation failed"})
		}
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			log.Printf("empty mfa secret for user %s", userID)
			return c.Status(500).JSON(fiber.Map{"error": "MFA validation failed"})
		}
		if !totp.Validate(strings.TrimSpace(req.MFACode), secret) {
			h.logAudit(ctx, userID, "login.mfa_failed", "user", userID, c)
			return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
		}
	}

	// Reset failed attempts and update last login
	h.db.Exec(ctx, `
        UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = NOW()
        WHERE id = $1`,
		userID,
	)

	token, err := h.generateToken(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}
	if err := h.storeSession(ctx, token, userID); err != nil {
		log.Printf("Failed to store session in Redis: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	h.logAudit(ctx, userID, "login.success", "user", userID, c)

	return c.JSON(fiber.Map{
		"token":    token,
		"user_id":  userID,
		"username": username,
		"role":     userRole,
		"pos_type": posType,
	})
}

// Logout godoc
// @Summary User logout
// @Description Revoke the current session token
// @Tags Authentication
// @Produce json
// @Success 200 {object} map[string]interface{} "Logged out"
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if token == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Missing authorization"})
	}
	if err := h.redis.Del(c.Context(), utils.SessionKey(token)).Err(); err != nil {
		log.Printf("Failed to delete session: %v", err)
	}
	if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
		h.logAudit(c.Context(), uid, "logout", "user", uid, c)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me godoc
// @Summary Current user profile
// @Description Return the authenticated user's profile
// @Tags Authentication
// @Produce json
// @Success 200 {object} map[string]interface{} "Profile"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	uid, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var username, userRole, posType string
	var emailEnc, phoneEnc []byte
	var mfaEnabled, isAdmin bool
	var createdAt time.Time
	var lastLogin sql.NullTime

	err := h.db.QueryRow(c.Context(), `
        SELECT username, email_encrypted, phone_encrypted, role, pos_type, mfa_enabled, is_admin, created_at, last_login
        FROM users WHERE id = $1 AND deleted_at IS NULL`,
		uid,
	).Scan(&username, &emailEnc, &phoneEnc, &userRole, &posType, &mfaEnabled, &isAdmin, &createdAt, &lastLogin)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}

	email := ""
	if emailBytes, err := h.crypto.Decrypt(emailEnc); err == nil {
		email = string(emailBytes)
	}
	phone := ""
	if len(phoneEnc) > 0 {
		if phoneBytes, err := h.crypto.Decrypt(phoneEnc); err == nil {
			phone = string(phoneBytes)
		}
	}

	return c.JSON(fiber.Map{
		"user_id":     uid,
		"username":    username,
		"email":       email,
		"phone":       phone,
		"role":        userRole,
		"pos_type":    posType,
		"mfa_enabled": mfaEnabled,
		"is_admin":    isAdmin,
		"created_at":  createdAt,
		"last_login":  utils.NilIfInvalid(lastLogin),
	})
}

func (h *AuthHandler) GetMFAStatus(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var enabled bool
	var hasSecret sql.NullBool
	if err := h.db.QueryRow(c.Context(), `SELECT mfa_enabled, mfa_secret_encrypted IS NOT NULL FROM users WHERE id = $1`, uid).
		Scan(&enabled, &hasSecret); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load MFA status"})
	}
	return c.JSON(fiber.Map{
		"enabled":    enabled,
		"has_secret": hasSecret.Valid && hasSecret.Bool,
	})
}

func (h *AuthHandler) BeginMFASetup(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	ctx := c.Context()
	var emailEnc []byte
	if err := h.db.QueryRow(ctx, `SELECT email_encrypted FROM users WHERE id=$1`, uid).Scan(&emailEnc); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Unable to start MFA setup"})
	}
	emailBytes, err := h.crypto.Decrypt(emailEnc)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Unable to start MFA setup"})
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "GoodSale",
		AccountName: string(emailBytes),
		Period:      30,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate MFA secret"})
	}
	secret := key.Secret()
	encryptedSecret, err := h.crypto.Encrypt([]byte(secret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to secure MFA secret"})
	}
	if _, err := h.db.Exec(ctx, `UPDATE users SET mfa_secret_encrypted = $1, mfa_enabled = FALSE WHERE id = $2`, encryptedSecret, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to persist MFA secret"})
	}
	h.logAudit(ctx, uid, "mfa.setup_started", "user", uid, c)
	return c.JSON(fiber.Map{
		"secret":      secret,
		"otpauth_url": key.URL(),
		"issuer":      key.Issuer(),
		"account":     key.AccountName(),
	})
}

func (h *AuthHandler) EnableMFA(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return c.Status(400).JSON(fiber.Map{"error": "MFA code required"})
	}
	ctx := c.Context()
	var secretEnc []byte
	if err := h.db.QueryRow(ctx, `SELECT mfa_secret_encrypted FROM users WHERE id = $1`, uid).Scan(&secretEnc); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "MFA secret not initialized"})
	}
	if len(secretEnc) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "MFA secret not initialized"})
	}
	secretBytes, err := h.crypto.Decrypt(secretEnc)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to access MFA secret"})
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return c.Status(500).JSON(fiber.Map{"error": "MFA secret invalid"})
	}
	if !totp.Validate(code, secret) {
		h.logAudit(ctx, uid, "mfa.enable_failed", "user", uid, c)
		return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
	}
	if _, err := h.db.Exec(ctx, `UPDATE users SET mfa_enabled = TRUE WHERE id = $1`, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to enable MFA"})
	}
	h.logAudit(ctx, uid, "mfa.enabled", "user", uid, c)
	return c.JSON(fiber.Map{"enabled": true})
}

func (h *AuthHandler) DisableMFA(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return c.Status(400).JSON(fiber.Map{"error": "MFA code required"})
	}
	ctx := c.Context()
	var secretEnc []byte
	if err := h.db.QueryRow(ctx, `SELECT mfa_secret_encrypted FROM users WHERE id = $1`, uid).Scan(&secretEnc); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "MFA not enabled"})
	}
	if len(secretEnc) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "MFA not enabled"})
	}
	secretBytes, err := h.crypto.Decrypt(secretEnc)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to access MFA secret"})
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return c.Status(500).JSON(fiber.Map{"error": "MFA secret invalid"})
	}
	if !totp.Validate(code, secret) {
		h.logAudit(ctx, uid, "mfa.disable_failed", "user", uid, c)
		return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
	}
	if _, err := h.db.Exec(ctx, `UPDATE users SET mfa_enabled = FALSE, mfa_secret_encrypted = NULL WHERE id = $1`, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to disable MFA"})
	}
	h.logAudit(ctx, uid, "mfa.disabled", "user", uid, c)
	return c.JSON(fiber.Map{"enabled": false})
}

// lockoutMessage renders the remaining lockout window for error responses
func lockoutMessage(until time.Time) string {
	remaining := time.Until(until)
	minutes := int(remaining.Minutes())
	seconds := int(remaining.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%d minutes and %d seconds", minutes, seconds)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

func (h *AuthHandler) generateToken(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(h.config.JWTSecret)
}

func (h *AuthHandler) logAudit(ctx context.Context, userID uuid.UUID, action, resourceType string, resourceID uuid.UUID, c *fiber.Ctx) {
	encryptedIP, err := h.crypto.Encrypt([]byte(utils.ClientIP(c)))
	if err != nil {
		log.Printf("failed to encrypt audit log IP: %v", err)
		encryptedIP = nil
	}
	encryptedUA, err := h.crypto.Encrypt([]byte(c.Get("User-Agent")))
	if err != nil {
		log.Printf("failed to encrypt audit log user agent: %v", err)
		encryptedUA = nil
	}

	if _, err := h.db.Exec(ctx, `
        INSERT INTO audit_log (user_id, action, resource_type, resource_id, ip_address_encrypted, user_agent_encrypted)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, action, resourceType, resourceID, encryptedIP, encryptedUA,
	); err != nil {
		log.Printf("failed to write audit log entry: %v", err)
	}
}

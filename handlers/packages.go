package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"goodsale/database"
)

// PackagesHandler handles subscription package requests
type PackagesHandler struct {
	db database.Database
}

// NewPackagesHandler creates a new packages handler
func NewPackagesHandler(db database.Database) *PackagesHandler {
	return &PackagesHandler{db: db}
}

// SubscribeRequest represents a request to subscribe to a package
type SubscribeRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

// GetPackages godoc
// @Summary List packages
// @Description List active subscription packages, optionally filtered by pos_type
// @Tags Packages
// @Produce json
// @Param pos_type query string false "Filter by POS type"
// @Success 200 {object} map[string]interface{} "List of packages"
// @Router /packages [get]
func (h *PackagesHandler) GetPackages(c *fiber.Ctx) error {
	ctx := context.Background()
	posType := c.Query("pos_type")

	query := `
		SELECT id, name, description, pos_type, price, billing_cycle
		FROM packages
		WHERE is_active = true`
	args := []interface{}{}
	if posType != "" {
		query += ` AND (pos_type = $1 OR pos_type IS NULL)`
		args = append(args, posType)
	}
	query += ` ORDER BY price`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch packages"})
	}
	defer rows.Close()

	packages := []fiber.Map{}
	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var description *string
		var pkgPOSType *string
		var price float64
		var billingCycle string
		if err := rows.Scan(&id, &name, &description, &pkgPOSType, &price, &billingCycle); err != nil {
			continue
		}
		ids = append(ids, id)
		packages = append(packages, fiber.Map{
			"id":            id,
			"name":          name,
			"description":   description,
			"pos_type":      pkgPOSType,
			"price":         price,
			"billing_cycle": billingCycle,
			"features":      []string{},
		})
	}

	// Attach features per package
	for i, id := range ids {
		featureRows, err := h.db.Query(ctx, `SELECT name FROM package_features WHERE package_id = $1 ORDER BY name`, id)
		if err != nil {
			continue
		}
		features := []string{}
		for featureRows.Next() {
			var name string
			if err := featureRows.Scan(&name); err == nil {
				features = append(features, name)
			}
		}
		featureRows.Close()
		packages[i]["features"] = features
	}

	return c.JSON(fiber.Map{"packages": packages})
}

// Subscribe starts or replaces the user's subscription
func (h *PackagesHandler) Subscribe(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid package id"})
	}

	ctx := context.Background()
	var billingCycle string
	err = h.db.QueryRow(ctx, `SELECT billing_cycle FROM packages WHERE id = $1 AND is_active = true`, packageID).Scan(&billingCycle)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Package not found"})
	}

	expiresAt := time.Now().AddDate(0, 1, 0)
	if billingCycle == "yearly" {
		expiresAt = time.Now().AddDate(1, 0, 0)
	}

	// Cancel any active subscription before starting the new one
	h.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'cancelled'
		WHERE user_id = $1 AND status = 'active'`,
		userID)

	var subscriptionID uuid.UUID
	err = h.db.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, package_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id`,
		userID, packageID, expiresAt).Scan(&subscriptionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create subscription"})
	}

	return c.Status(201).JSON(fiber.Map{
		"subscription_id": subscriptionID,
		"package_id":      packageID,
		"status":          "active",
		"expires_at":      expiresAt,
	})
}

// CurrentSubscription returns the user's active subscription, if any
func (h *PackagesHandler) CurrentSubscription(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	var subscriptionID, packageID uuid.UUID
	var packageName, status string
	var startedAt, expiresAt time.Time
	err := h.db.QueryRow(ctx, `
		SELECT s.id, s.package_id, p.name, s.status, s.started_at, s.expires_at
		FROM subscriptions s
		JOIN packages p ON p.id = s.package_id
		WHERE s.user_id = $1 AND s.status = 'active'
		ORDER BY s.started_at DESC
		LIMIT 1`,
		userID).Scan(&subscriptionID, &packageID, &packageName, &status, &startedAt, &expiresAt)
	if err != nil {
		return c.JSON(fiber.Map{"subscription": nil})
	}

	return c.JSON(fiber.Map{"subscription": fiber.Map{
		"id":           subscriptionID,
		"package_id":   packageID,
		"package_name": packageName,
		"status":       status,
		"started_at":   startedAt,
		"expires_at":   expiresAt,
	}})
}

package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"goodsale/crypto"
	"goodsale/database"
	"goodsale/metrics"
	"goodsale/utils"
)

// Loyalty tier thresholds in lifetime points
const (
	tierSilverAt   = 1000
	tierGoldAt     = 5000
	tierPlatinumAt = 10000
)

// LoyaltyHandler handles loyalty program requests
type LoyaltyHandler struct {
	db     database.Database
	crypto *crypto.CryptoService
}

// NewLoyaltyHandler creates a new loyalty handler
func NewLoyaltyHandler(db database.Database, cryptoService *crypto.CryptoService) *LoyaltyHandler {
	return &LoyaltyHandler{db: db, crypto: cryptoService}
}

// CreateMemberRequest represents a request to enroll a loyalty member
type CreateMemberRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// PointsRequest represents a manual earn or redeem request
type PointsRequest struct {
	Points      int    `json:"points" validate:"required,min=1"`
	Description string `json:"description,omitempty"`
}

// TierForPoints maps a lifetime points total to a tier name
func TierForPoints(lifetime int) string {
	switch {
	case lifetime >= tierPlatinumAt:
		return "Platinum"
	case lifetime >= tierGoldAt:
		return "Gold"
	case lifetime >= tierSilverAt:
		return "Silver"
	default:
		return "Bronze"
	}
}

// AwardPoints credits points to a member and refreshes their tier.
// The tier follows lifetime earned points, so redemptions never demote.
func AwardPoints(ctx context.Context, db database.Database, memberID uuid.UUID, points int, description string, orderID *uuid.UUID) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE loyalty_members SET points_balance = points_balance + $1 WHERE id = $2`,
		points, memberID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO points_transactions (member_id, transaction_type, points, description, order_id)
		VALUES ($1, 'earn', $2, $3, $4)`,
		memberID, points, description, orderID); err != nil {
		return err
	}

	var lifetime int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM points_transactions
		WHERE member_id = $1 AND transaction_type = 'earn'`,
		memberID).Scan(&lifetime); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE loyalty_members SET tier = $1 WHERE id = $2`,
		TierForPoints(lifetime), memberID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateMember enrolls a new loyalty member with a fresh member code
func (h *LoyaltyHandler) CreateMember(c *fiber.Ctx) error {
	var req CreateMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Member name is required"})
	}

	ctx := context.Background()

	var phoneEncrypted, phoneSearch []byte
	if req.Phone != "" {
		phone := digitsOnly(req.Phone)
		var err error
		phoneEncrypted, err = h.crypto.Encrypt([]byte(phone))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to protect member data"})
		}
		phoneSearch, err = h.crypto.EncryptDeterministic([]byte(phone), "phone_search")
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to protect member data"})
		}

		var exists bool
		h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM loyalty_members WHERE phone_search = $1)`, phoneSearch).Scan(&exists)
		if exists {
			return c.Status(409).JSON(fiber.Map{"error": "Phone number already enrolled"})
		}
	}

	var emailEncrypted []byte
	if req.Email != "" {
		var err error
		emailEncrypted, err = h.crypto.Encrypt([]byte(strings.ToLower(strings.TrimSpace(req.Email))))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to protect member data"})
		}
	}

	// Member codes are random; retry the rare collision
	var memberID uuid.UUID
	var memberCode string
	for attempt := 0; attempt < 3; attempt++ {
		code, err := utils.NewMemberCode()
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to generate member code"})
		}
		err = h.db.QueryRow(ctx, `
			INSERT INTO loyalty_members (member_id, name, phone_encrypted, phone_search, email_encrypted)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			code, req.Name, phoneEncrypted, phoneSearch, emailEncrypted).Scan(&memberID)
		if err == nil {
			memberCode = code
			break
		}
		if !strings.Contains(err.Error(), "duplicate") {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to enroll member"})
		}
	}
	if memberCode == "" {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to enroll member"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":             memberID,
		"member_id":      memberCode,
		"name":           req.Name,
		"points_balance": 0,
		"tier":           "Bronze",
	})
}

// GetMember returns a member by internal id or printed member code
func (h *LoyaltyHandler) GetMember(c *fiber.Ctx) error {
	ref := strings.TrimSpace(c.Params("member_ref"))
	ctx := context.Background()

	query := `
		SELECT id, member_id, name, phone_encrypted, points_balance, tier, created_at
		FROM loyalty_members WHERE `
	var arg interface{}
	if parsed, err := uuid.Parse(ref); err == nil {
		query += `id = $1`
		arg = parsed
	} else {
		query += `member_id = $1`
		arg = strings.ToUpper(ref)
	}

	var id uuid.UUID
	var memberCode, name string
	var phoneEnc []byte
	var balance int
	var tier string
	var createdAt time.Time
	err := h.db.QueryRow(ctx, query, arg).Scan(&id, &memberCode, &name, &phoneEnc, &balance, &tier, &createdAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}

	phone := ""
	if len(phoneEnc) > 0 {
		if phoneBytes, err := h.crypto.Decrypt(phoneEnc); err == nil {
			phone = string(phoneBytes)
		}
	}

	return c.JSON(fiber.Map{
		"id":             id,
		"member_id":      memberCode,
		"name":           name,
		"phone":          phone,
		"points_balance": balance,
		"tier":           tier,
		"created_at":     createdAt,
	})
}

// SearchByPhone finds a member by phone number using the deterministic index
func (h *LoyaltyHandler) SearchByPhone(c *fiber.Ctx) error {
	phone := digitsOnly(c.Query("phone"))
	if phone == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Phone number is required"})
	}

	phoneSearch, err := h.crypto.EncryptDeterministic([]byte(phone), "phone_search")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Search failed"})
	}

	ctx := context.Background()
	var id uuid.UUID
	var memberCode, name, tier string
	var balance int
	err = h.db.QueryRow(ctx, `
		SELECT id, member_id, name, points_balance, tier
		FROM loyalty_members WHERE phone_search = $1`,
		phoneSearch).Scan(&id, &memberCode, &name, &balance, &tier)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}

	return c.JSON(fiber.Map{
		"id":             id,
		"member_id":      memberCode,
		"name":           name,
		"points_balance": balance,
		"tier":           tier,
	})
}

// EarnPoints credits points manually, e.g. for promotions
func (h *LoyaltyHandler) EarnPoints(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("member_ref"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid member id"})
	}

	var req PointsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Points <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Points must be positive"})
	}

	ctx := context.Background()
	var exists bool
	h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM loyalty_members WHERE id = $1)`, memberID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}

	description := req.Description
	if description == "" {
		description = "Manual adjustment"
	}
	if err := AwardPoints(ctx, h.db, memberID, req.Points, description, nil); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to award points"})
	}
	metrics.IncrementLoyaltyPoints("earned", req.Points)

	var balance int
	var tier string
	h.db.QueryRow(ctx, `SELECT points_balance, tier FROM loyalty_members WHERE id = $1`, memberID).Scan(&balance, &tier)
	return c.JSON(fiber.Map{"points_balance": balance, "tier": tier})
}

// RedeemPoints debits points from a member's balance
func (h *LoyaltyHandler) RedeemPoints(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("member_ref"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid member id"})
	}

	var req PointsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Points <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Points must be positive"})
	}

	ctx := context.Background()
	var balance int
	err = h.db.QueryRow(ctx, `SELECT points_balance FROM loyalty_members WHERE id = $1`, memberID).Scan(&balance)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}
	if req.Points > balance {
		return c.Status(400).JSON(fiber.Map{"error": "Insufficient points balance"})
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE loyalty_members SET points_balance = points_balance - $1 WHERE id = $2`,
		req.Points, memberID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to redeem points"})
	}
	description := req.Description
	if description == "" {
		description = "Redemption"
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO points_transactions (member_id, transaction_type, points, description)
		VALUES ($1, 'redeem', $2, $3)`,
		memberID, -req.Points, description); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to redeem points"})
	}
	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to redeem points"})
	}

	metrics.IncrementLoyaltyPoints("redeemed", req.Points)
	return c.JSON(fiber.Map{"points_balance": balance - req.Points})
}

// GetHistory lists a member's recent points transactions
func (h *LoyaltyHandler) GetHistory(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("member_ref"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid member id"})
	}

	ctx := context.Background()
	rows, err := h.db.Query(ctx, `
		SELECT id, transaction_type, points, description, order_id, created_at
		FROM points_transactions
		WHERE member_id = $1
		ORDER BY created_at DESC
		LIMIT 100`,
		memberID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch history"})
	}
	defer rows.Close()

	transactions := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var transactionType string
		var points int
		var description *string
		var orderID *uuid.UUID
		var createdAt time.Time
		if err := rows.Scan(&id, &transactionType, &points, &description, &orderID, &createdAt); err != nil {
			continue
		}
		transactions = append(transactions, fiber.Map{
			"id":          id,
			"type":        transactionType,
			"points":      points,
			"description": description,
			"order_id":    orderID,
			"created_at":  createdAt,
		})
	}

	return c.JSON(fiber.Map{"transactions": transactions})
}

// rewardCatalog is the fixed redemption menu shown at the till.
var rewardCatalog = []fiber.Map{
	{"id": 1, "name": "ส่วนลด 10 บาท", "description": "รับส่วนลด 10 บาท สำหรับการซื้อครั้งถัดไป", "points_required": 100, "category": "discount", "terms": "ใช้ได้กับการซื้อขั้นต่ำ 50 บาท"},
	{"id": 2, "name": "ส่วนลด 25 บาท", "description": "รับส่วนลด 25 บาท สำหรับการซื้อครั้งถัดไป", "points_required": 250, "category": "discount", "terms": "ใช้ได้กับการซื้อขั้นต่ำ 100 บาท"},
	{"id": 3, "name": "เครื่องดื่มฟรี", "description": "รับเครื่องดื่มฟรี 1 แก้ว (เมนูราคาไม่เกิน 50 บาท)", "points_required": 300, "category": "free_item", "terms": "เลือกได้จากเมนูที่กำหนด"},
	{"id": 4, "name": "ส่วนลด 50 บาท", "description": "รับส่วนลด 50 บาท สำหรับการซื้อครั้งถัดไป", "points_required": 500, "category": "discount", "terms": "ใช้ได้กับการซื้อขั้นต่ำ 200 บาท"},
	{"id": 5, "name": "ส่วนลด 100 บาท", "description": "รับส่วนลด 100 บาท สำหรับการซื้อครั้งถัดไป", "points_required": 1000, "category": "discount", "terms": "ใช้ได้กับการซื้อขั้นต่ำ 500 บาท"},
}

// tierCatalog mirrors the thresholds TierForPoints applies.
var tierCatalog = []fiber.Map{
	{"name": "Bronze", "min_points": 0, "max_points": tierSilverAt - 1, "color": "#CD7F32",
		"benefits": []string{"สะสมแต้ม 1 แต้ม ต่อการใช้จ่าย 10 บาท", "รับข่าวสารโปรโมชั่นพิเศษ"}},
	{"name": "Silver", "min_points": tierSilverAt, "max_points": tierGoldAt - 1, "color": "#C0C0C0",
		"benefits": []string{"สะสมแต้ม 1.2 แต้ม ต่อการใช้จ่าย 10 บาท", "ส่วนลดพิเศษในวันเกิด 10%", "รับข่าวสารโปรโมชั่นพิเศษ"}},
	{"name": "Gold", "min_points": tierGoldAt, "max_points": tierPlatinumAt - 1, "color": "#FFD700",
		"benefits": []string{"สะสมแต้ม 1.5 แต้ม ต่อการใช้จ่าย 10 บาท", "ส่วนลดพิเศษในวันเกิด 15%", "เครื่องดื่มฟรี 1 แก้วในวันเกิด", "รับข่าวสารโปรโมชั่นพิเศษ"}},
	{"name": "Platinum", "min_points": tierPlatinumAt, "max_points": nil, "color": "#E5E4E2",
		"benefits": []string{"สะสมแต้ม 2 แต้ม ต่อการใช้จ่าย 10 บาท", "ส่วนลดพิเศษในวันเกิด 20%", "เครื่องดื่มฟรี 2 แก้วในวันเกิด", "ข้ามคิวในช่วงเวลาเร่งด่วน", "รับข่าวสารโปรโมชั่นพิเศษ"}},
}

// GetRewards godoc
// @Summary Rewards available for redemption
// @Tags Loyalty
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Reward catalog"
// @Router /stores/{store_id}/loyalty/rewards [get]
func (h *LoyaltyHandler) GetRewards(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"rewards": rewardCatalog})
}

// GetTiers godoc
// @Summary Loyalty tier thresholds and benefits
// @Tags Loyalty
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Tier catalog"
// @Router /stores/{store_id}/loyalty/tiers [get]
func (h *LoyaltyHandler) GetTiers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"tiers": tierCatalog})
}

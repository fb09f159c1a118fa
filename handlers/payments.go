package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goodsale/config"
	"goodsale/database"
	"goodsale/metrics"
	"goodsale/promptpay"
	ws "goodsale/websocket"
)

// PaymentNotifier pushes payment messages to an external channel such as
// the LINE Messaging API. Implementations must tolerate a nil receiver.
type PaymentNotifier interface {
	PushText(ctx context.Context, text string) error
}

// PaymentsHandler handles payment requests
type PaymentsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	hub      *ws.Hub
	notifier PaymentNotifier
}

// NewPaymentsHandler creates a new payments handler. The notifier may be nil
// when no push channel is configured.
func NewPaymentsHandler(db database.Database, redisClient *redis.Client, cfg *config.Config, hub *ws.Hub, notifier PaymentNotifier) *PaymentsHandler {
	return &PaymentsHandler{db: db, redis: redisClient, config: cfg, hub: hub, notifier: notifier}
}

// pendingPayment is the Redis record for an unverified QR payment.
// Redis is authoritative: when the key expires, the payment is gone.
type pendingPayment struct {
	OrderID   string    `json:"order_id"`
	StoreID   string    `json:"store_id"`
	Amount    float64   `json:"amount"`
	Reference string    `json:"reference"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateQRRequest represents a request to create a PromptPay QR payment
type CreateQRRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

func paymentKey(orderID uuid.UUID) string {
	return "payment:" + orderID.String()
}

// CreateQRPayment godoc
// @Summary Create a PromptPay QR payment
// @Description Build the EMV payload for an order and hold it pending verification
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} map[string]interface{} "QR payment created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Order already paid"
// @Router /stores/{store_id}/payments/qr [post]
func (h *PaymentsHandler) CreateQRPayment(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateQRRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	var orderNumber, status, paymentStatus string
	var total float64
	err = h.db.QueryRow(ctx, `
		SELECT order_number, status, payment_status, total FROM orders
		WHERE id = $1 AND store_id = $2`,
		orderID, storeID).Scan(&orderNumber, &status, &paymentStatus, &total)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}
	if paymentStatus == "paid" {
		return c.Status(409).JSON(fiber.Map{"error": "Order already paid"})
	}
	if status == "cancelled" {
		return c.Status(409).JSON(fiber.Map{"error": "Order is cancelled"})
	}

	// Store account wins over the platform-wide default
	var storeAccount *string
	var storeName string
	h.db.QueryRow(ctx, `SELECT promptpay_account, name FROM stores WHERE id = $1`, storeID).Scan(&storeAccount, &storeName)

	target := h.config.PromptPayID
	if storeAccount != nil && *storeAccount != "" {
		target = *storeAccount
	}
	if target == "" {
		return c.Status(400).JSON(fiber.Map{"error": "No PromptPay account configured"})
	}
	merchant := storeName
	if merchant == "" {
		merchant = h.config.MerchantName
	}

	payload, err := promptpay.BuildPayload(promptpay.Request{
		TargetID:     target,
		MerchantName: merchant,
		Amount:       total,
		Ref1:         orderNumber,
	})
	if err != nil {
		metrics.IncrementError("payment", "qr_build")
		return c.Status(500).JSON(fiber.Map{"error": "Failed to build QR payload"})
	}

	now := time.Now()
	pending := pendingPayment{
		OrderID:   orderID.String(),
		StoreID:   storeID.String(),
		Amount:    total,
		Reference: orderNumber,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(h.config.PaymentExpiry),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create payment"})
	}
	metrics.IncrementRedisOperation("set")
	if err := h.redis.Set(ctx, paymentKey(orderID), data, h.config.PaymentExpiry).Err(); err != nil {
		metrics.IncrementError("redis", "payment")
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create payment"})
	}

	h.db.Exec(ctx, `UPDATE orders SET payment_method = 'qr_code' WHERE id = $1`, orderID)

	return c.Status(201).JSON(fiber.Map{
		"order_id":   orderID,
		"amount":     total,
		"payload":    payload,
		"reference":  orderNumber,
		"expires_at": pending.ExpiresAt,
	})
}

// GetPaymentStatus reports whether a QR payment is still pending
func (h *PaymentsHandler) GetPaymentStatus(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	var paymentStatus string
	var paidAt *time.Time
	err = h.db.QueryRow(ctx, `
		SELECT payment_status, paid_at FROM orders WHERE id = $1 AND store_id = $2`,
		orderID, storeID).Scan(&paymentStatus, &paidAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}

	if paymentStatus == "paid" {
		return c.JSON(fiber.Map{"status": "paid", "paid_at": paidAt})
	}

	metrics.IncrementRedisOperation("get")
	data, err := h.redis.Get(ctx, paymentKey(orderID)).Bytes()
	if err != nil {
		return c.JSON(fiber.Map{"status": "expired"})
	}
	var pending pendingPayment
	if err := json.Unmarshal(data, &pending); err != nil {
		return c.JSON(fiber.Map{"status": "expired"})
	}

	return c.JSON(fiber.Map{
		"status":     "pending",
		"amount":     pending.Amount,
		"reference":  pending.Reference,
		"expires_at": pending.ExpiresAt,
	})
}

// VerifyPayment marks a pending QR payment as settled
func (h *PaymentsHandler) VerifyPayment(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	metrics.IncrementRedisOperation("get")
	data, err := h.redis.Get(ctx, paymentKey(orderID)).Bytes()
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "No pending payment for this order"})
	}
	var pending pendingPayment
	if err := json.Unmarshal(data, &pending); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Payment record corrupted"})
	}

	if err := h.settlePayment(ctx, storeID, orderID, "qr_code", pending.Amount, pending.Reference); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to record payment"})
	}

	metrics.IncrementRedisOperation("del")
	h.redis.Del(ctx, paymentKey(orderID))

	return c.JSON(fiber.Map{"status": "paid", "order_id": orderID, "amount": pending.Amount})
}

// CancelPayment drops a pending QR payment
func (h *PaymentsHandler) CancelPayment(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	metrics.IncrementRedisOperation("del")
	deleted, err := h.redis.Del(ctx, paymentKey(orderID)).Result()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to cancel payment"})
	}
	if deleted == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "No pending payment for this order"})
	}

	metrics.IncrementPayment("qr_code", "cancelled")
	return c.JSON(fiber.Map{"status": "cancelled", "order_id": orderID})
}

// RecordCashPayment settles an order paid at the till
func (h *PaymentsHandler) RecordCashPayment(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	var orderNumber, paymentStatus string
	var total float64
	err = h.db.QueryRow(ctx, `
		SELECT order_number, payment_status, total FROM orders
		WHERE id = $1 AND store_id = $2 AND status != 'cancelled'`,
		orderID, storeID).Scan(&orderNumber, &paymentStatus, &total)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}
	if paymentStatus == "paid" {
		return c.Status(409).JSON(fiber.Map{"error": "Order already paid"})
	}

	h.db.Exec(ctx, `UPDATE orders SET payment_method = 'cash' WHERE id = $1`, orderID)
	if err := h.settlePayment(ctx, storeID, orderID, "cash", total, orderNumber); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to record payment"})
	}

	return c.JSON(fiber.Map{"status": "paid", "order_id": orderID, "amount": total})
}

// settlePayment flips the order to paid and writes the permanent payment row
func (h *PaymentsHandler) settlePayment(ctx context.Context, storeID, orderID uuid.UUID, method string, amount float64, reference string) error {
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status = 'paid', paid_at = NOW() WHERE id = $1`,
		orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (order_id, store_id, method, amount, reference)
		VALUES ($1, $2, $3, $4, $5)`,
		orderID, storeID, method, amount, reference); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.IncrementPayment(method, "completed")

	var orderNumber string
	h.db.QueryRow(ctx, `SELECT order_number FROM orders WHERE id = $1`, orderID).Scan(&orderNumber)
	h.hub.NotifyPaymentCompleted(storeID, ws.PaymentCompletedEvent{
		OrderID:     orderID.String(),
		OrderNumber: orderNumber,
		Method:      method,
		Amount:      amount,
	})

	if h.notifier != nil {
		text := fmt.Sprintf("💰 รับชำระเงินแล้ว: %s ยอด %.2f บาท (%s)", orderNumber, amount, method)
		if err := h.notifier.PushText(ctx, text); err != nil {
			log.Printf("⚠️ LINE payment notification failed for order %s: %v", orderID, err)
		}
	}
	return nil
}

// LINEWebhook receives payment notifications relayed through LINE.
// The signature is HMAC-SHA256 of the raw body with the channel secret.
func (h *PaymentsHandler) LINEWebhook(c *fiber.Ctx) error {
	if h.config.LINEChannelSecret == "" {
		return c.Status(503).JSON(fiber.Map{"error": "LINE integration not configured"})
	}

	signature := c.Get("X-Line-Signature")
	if signature == "" {
		return c.Status(401).JSON(fiber.Map{"error": "Missing signature"})
	}
	body := c.Body()

	mac := hmac.New(sha256.New, []byte(h.config.LINEChannelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		metrics.IncrementError("auth", "line_webhook")
		return c.Status(401).JSON(fiber.Map{"error": "Invalid signature"})
	}

	var payload struct {
		Events []struct {
			Type    string `json:"type"`
			Message struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid payload"})
	}

	// Bank notification texts carry the order reference; match them against
	// pending payments so the till confirms without manual verification.
	for _, event := range payload.Events {
		if event.Type != "message" || event.Message.Type != "text" {
			continue
		}
		h.matchNotification(context.Background(), event.Message.Text)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// matchNotification settles any pending payment whose reference appears in the text
func (h *PaymentsHandler) matchNotification(ctx context.Context, text string) {
	rows, err := h.db.Query(ctx, `
		SELECT id, store_id, order_number, total FROM orders
		WHERE payment_status = 'pending' AND payment_method = 'qr_code'
		  AND created_at > NOW() - INTERVAL '1 hour'`)
	if err != nil {
		return
	}
	defer rows.Close()

	type candidate struct {
		orderID     uuid.UUID
		storeID     uuid.UUID
		orderNumber string
		total       float64
	}
	candidates := []candidate{}
	for rows.Next() {
		var entry candidate
		if err := rows.Scan(&entry.orderID, &entry.storeID, &entry.orderNumber, &entry.total); err == nil {
			candidates = append(candidates, entry)
		}
	}

	for _, entry := range candidates {
		if !containsReference(text, entry.orderNumber) {
			continue
		}
		metrics.IncrementRedisOperation("exists")
		if exists, err := h.redis.Exists(ctx, paymentKey(entry.orderID)).Result(); err != nil || exists == 0 {
			continue
		}
		if err := h.settlePayment(ctx, entry.storeID, entry.orderID, "qr_code", entry.total, entry.orderNumber); err != nil {
			log.Printf("failed to settle order %s from notification: %v", entry.orderID, err)
			continue
		}
		metrics.IncrementRedisOperation("del")
		h.redis.Del(ctx, paymentKey(entry.orderID))
	}
}

func containsReference(text, reference string) bool {
	return reference != "" && strings.Contains(text, reference)
}

package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"goodsale/database"
	"goodsale/metrics"
	"goodsale/utils"
	ws "goodsale/websocket"
)

// Order status transitions. Completed and cancelled orders are final.
var orderTransitions = map[string][]string{
	"new":       {"preparing", "cancelled"},
	"preparing": {"ready", "cancelled"},
	"ready":     {"completed", "cancelled"},
}

// OrdersHandler handles order lifecycle requests
type OrdersHandler struct {
	db  database.Database
	hub *ws.Hub
}

// NewOrdersHandler creates a new orders handler
func NewOrdersHandler(db database.Database, hub *ws.Hub) *OrdersHandler {
	return &OrdersHandler{db: db, hub: hub}
}

// OrderItemOptions captures the customizations chosen for one line
type OrderItemOptions struct {
	SizeID      string   `json:"size_id,omitempty"`
	ToppingIDs  []string `json:"topping_ids,omitempty"`
	SweetnessID string   `json:"sweetness_id,omitempty"`
}

// OrderItemRequest represents one line of a new order
type OrderItemRequest struct {
	MenuItemID string           `json:"menu_item_id,omitempty"`
	Name       string           `json:"name,omitempty"`  // required for custom items
	Price      float64          `json:"price,omitempty"` // only honored for custom items
	Quantity   int              `json:"quantity" validate:"required,min=1"`
	Options    OrderItemOptions `json:"options,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items         []OrderItemRequest `json:"items" validate:"required"`
	TableNumber   string             `json:"table_number,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	Discount      float64            `json:"discount,omitempty"`
	MemberID      string             `json:"member_id,omitempty"`
	Notes         string             `json:"notes,omitempty"`
}

// UpdateStatusRequest represents an order status change
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type pricedItem struct {
	menuItemID *uuid.UUID
	name       string
	quantity   int
	unitPrice  float64
	options    []fiber.Map
	note       string
}

// CreateOrder godoc
// @Summary Create an order
// @Description Create an order. Prices are always resolved server-side from the menu.
// @Tags Orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} map[string]interface{} "Order created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Store closed"
// @Router /stores/{store_id}/orders [post]
func (h *OrdersHandler) CreateOrder(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if len(req.Items) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Order must contain at least one item"})
	}
	if req.Discount < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Discount cannot be negative"})
	}
	if req.PaymentMethod != "" && req.PaymentMethod != "cash" && req.PaymentMethod != "qr_code" {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid payment method"})
	}

	ctx := context.Background()

	var isOpen bool
	var taxRate float64
	err := h.db.QueryRow(ctx, `SELECT is_open, tax_rate FROM stores WHERE id = $1 AND deleted_at IS NULL`, storeID).
		Scan(&isOpen, &taxRate)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Store not found"})
	}
	if !isOpen {
		return c.Status(409).JSON(fiber.Map{"error": "Store is closed"})
	}

	var memberID *uuid.UUID
	if req.MemberID != "" {
		parsed, err := uuid.Parse(req.MemberID)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid member id"})
		}
		var exists bool
		h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM loyalty_members WHERE id = $1)`, parsed).Scan(&exists)
		if !exists {
			return c.Status(404).JSON(fiber.Map{"error": "Loyalty member not found"})
		}
		memberID = &parsed
	}

	// Resolve every line against the menu; client prices are never trusted
	priced := make([]pricedItem, 0, len(req.Items))
	subtotal := 0.0
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return c.Status(400).JSON(fiber.Map{"error": "Item quantity must be positive"})
		}
		line, status, errMsg := h.priceItem(ctx, storeID, item)
		if errMsg != "" {
			return c.Status(status).JSON(fiber.Map{"error": errMsg})
		}
		priced = append(priced, line)
		subtotal += line.unitPrice * float64(line.quantity)
	}

	subtotal = utils.Round2(subtotal)
	tax := utils.Round2(subtotal * taxRate)
	discount := utils.Round2(req.Discount)
	total := utils.Round2(subtotal + tax - discount)
	if total < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Discount exceeds order total"})
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	orderID, orderNumber, err := insertOrderWithNumber(ctx, tx, storeID, func(orderID uuid.UUID, orderNumber string) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, store_id, order_number, table_number, payment_method,
			                    subtotal, tax, discount, total, notes, member_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			orderID, storeID, orderNumber, nullIfEmpty(req.TableNumber), nullIfEmpty(req.PaymentMethod),
			subtotal, tax, discount, total, nullIfEmpty(req.Notes), memberID, userID)
		return err
	})
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create order"})
	}

	itemCount := 0
	for _, line := range priced {
		optionsJSON, err := json.Marshal(line.options)
		if err != nil {
			optionsJSON = []byte("[]")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price, options, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			orderID, line.menuItemID, line.name, line.quantity, line.unitPrice, optionsJSON, nullIfEmpty(line.note)); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to create order"})
		}
		itemCount += line.quantity
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create order"})
	}

	metrics.IncrementOrderOperation("create")
	h.hub.NotifyOrderCreated(storeID, ws.OrderCreatedEvent{
		OrderID:     orderID.String(),
		OrderNumber: orderNumber,
		TotalAmount: total,
		ItemCount:   itemCount,
	})

	return c.Status(201).JSON(fiber.Map{
		"id":           orderID,
		"order_number": orderNumber,
		"status":       "new",
		"subtotal":     subtotal,
		"tax":          tax,
		"discount":     discount,
		"total":        total,
	})
}

// priceItem resolves one order line against the menu
func (h *OrdersHandler) priceItem(ctx context.Context, storeID uuid.UUID, item OrderItemRequest) (pricedItem, int, string) {
	line := pricedItem{quantity: item.Quantity, note: item.Note, options: []fiber.Map{}}

	if item.MenuItemID == "" {
		// Custom line, e.g. grocery items rung up without a menu entry
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return line, 400, "Custom items require a name"
		}
		if item.Price < 0 {
			return line, 400, "Price cannot be negative"
		}
		line.name = name
		line.unitPrice = utils.Round2(item.Price)
		return line, 0, ""
	}

	menuItemID, err := uuid.Parse(item.MenuItemID)
	if err != nil {
		return line, 400, "Invalid menu item id"
	}

	var name string
	var basePrice float64
	var isAvailable bool
	err = h.db.QueryRow(ctx, `
		SELECT name, price, is_available FROM menu_items
		WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL`,
		menuItemID, storeID).Scan(&name, &basePrice, &isAvailable)
	if err != nil {
		return line, 404, "Menu item not found"
	}
	if !isAvailable {
		return line, 409, "Menu item is not available: " + name
	}

	unitPrice := basePrice

	if item.Options.SizeID != "" {
		sizeID, err := uuid.Parse(item.Options.SizeID)
		if err != nil {
			return line, 400, "Invalid size id"
		}
		var sizeName string
		var priceDelta float64
		err = h.db.QueryRow(ctx, `
			SELECT name, price_delta FROM menu_sizes WHERE id = $1 AND menu_item_id = $2`,
			sizeID, menuItemID).Scan(&sizeName, &priceDelta)
		if err != nil {
			return line, 404, "Size not found"
		}
		unitPrice += priceDelta
		line.options = append(line.options, fiber.Map{"type": "size", "name": sizeName, "price_delta": priceDelta})
	}

	for _, rawID := range item.Options.ToppingIDs {
		toppingID, err := uuid.Parse(rawID)
		if err != nil {
			return line, 400, "Invalid topping id"
		}
		var toppingName string
		var toppingPrice float64
		var available bool
		err = h.db.QueryRow(ctx, `
			SELECT name, price, is_available FROM menu_toppings WHERE id = $1 AND menu_item_id = $2`,
			toppingID, menuItemID).Scan(&toppingName, &toppingPrice, &available)
		if err != nil {
			return line, 404, "Topping not found"
		}
		if !available {
			return line, 409, "Topping is not available: " + toppingName
		}
		unitPrice += toppingPrice
		line.options = append(line.options, fiber.Map{"type": "topping", "name": toppingName, "price": toppingPrice})
	}

	if item.Options.SweetnessID != "" {
		sweetnessID, err := uuid.Parse(item.Options.SweetnessID)
		if err != nil {
			return line, 400, "Invalid sweetness id"
		}
		var sweetnessName string
		var percentage int
		err = h.db.QueryRow(ctx, `
			SELECT name, percentage FROM sweetness_levels WHERE id = $1 AND store_id = $2`,
			sweetnessID, storeID).Scan(&sweetnessName, &percentage)
		if err != nil {
			return line, 404, "Sweetness level not found"
		}
		line.options = append(line.options, fiber.Map{"type": "sweetness", "name": sweetnessName, "percentage": percentage})
	}

	line.menuItemID = &menuItemID
	line.name = name
	line.unitPrice = utils.Round2(unitPrice)
	return line, 0, ""
}

// insertOrderWithNumber assigns the next per-store daily order number, retrying
// on collision when two tills create orders in the same instant. Each attempt
// runs inside a savepoint: a unique violation aborts the transaction in
// Postgres, so the failed insert must be rolled back before retrying.
func insertOrderWithNumber(ctx context.Context, tx pgx.Tx, storeID uuid.UUID, insert func(uuid.UUID, string) error) (uuid.UUID, string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var seq int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) + 1 + $2 FROM orders
			WHERE store_id = $1 AND created_at::date = CURRENT_DATE`,
			storeID, attempt).Scan(&seq)
		if err != nil {
			return uuid.Nil, "", err
		}

		if _, err := tx.Exec(ctx, "SAVEPOINT new_order"); err != nil {
			return uuid.Nil, "", err
		}

		orderID := uuid.New()
		orderNumber := utils.OrderNumber(time.Now(), seq)
		if err := insert(orderID, orderNumber); err != nil {
			lastErr = err
			if strings.Contains(err.Error(), "duplicate") {
				if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT new_order"); rbErr != nil {
					return uuid.Nil, "", rbErr
				}
				continue
			}
			return uuid.Nil, "", err
		}
		return orderID, orderNumber, nil
	}
	return uuid.Nil, "", lastErr
}

// GetOrders lists orders for a store with optional status filter
func (h *OrdersHandler) GetOrders(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	query := `
		SELECT id, order_number, table_number, status, payment_method, payment_status,
		       subtotal, tax, discount, total, member_id, created_at, completed_at
		FROM orders WHERE store_id = $1`
	args := []interface{}{storeID}

	if status := c.Query("status"); status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch orders"})
	}
	defer rows.Close()

	orders := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var orderNumber string
		var tableNumber, paymentMethod *string
		var status, paymentStatus string
		var subtotal, tax, discount, total float64
		var memberID *uuid.UUID
		var createdAt time.Time
		var completedAt *time.Time

		if err := rows.Scan(&id, &orderNumber, &tableNumber, &status, &paymentMethod, &paymentStatus,
			&subtotal, &tax, &discount, &total, &memberID, &createdAt, &completedAt); err != nil {
			continue
		}
		orders = append(orders, fiber.Map{
			"id":             id,
			"order_number":   orderNumber,
			"table_number":   tableNumber,
			"status":         status,
			"payment_method": paymentMethod,
			"payment_status": paymentStatus,
			"subtotal":       subtotal,
			"tax":            tax,
			"discount":       discount,
			"total":          total,
			"member_id":      memberID,
			"created_at":     createdAt,
			"completed_at":   completedAt,
		})
	}

	return c.JSON(fiber.Map{"orders": orders})
}

// GetOrder returns one order with its items
func (h *OrdersHandler) GetOrder(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	ctx := context.Background()
	var orderNumber string
	var tableNumber, paymentMethod, notes *string
	var status, paymentStatus string
	var subtotal, tax, discount, total float64
	var memberID *uuid.UUID
	var createdAt time.Time
	var completedAt, paidAt *time.Time

	err = h.db.QueryRow(ctx, `
		SELECT order_number, table_number, status, payment_method, payment_status,
		       subtotal, tax, discount, total, notes, member_id, created_at, completed_at, paid_at
		FROM orders WHERE id = $1 AND store_id = $2`,
		orderID, storeID).Scan(&orderNumber, &tableNumber, &status, &paymentMethod, &paymentStatus,
		&subtotal, &tax, &discount, &total, &notes, &memberID, &createdAt, &completedAt, &paidAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}

	items := []fiber.Map{}
	rows, err := h.db.Query(ctx, `
		SELECT id, menu_item_id, name, quantity, unit_price, options, note
		FROM order_items WHERE order_id = $1 ORDER BY created_at`,
		orderID)
	if err == nil {
		for rows.Next() {
			var itemID uuid.UUID
			var menuItemID *uuid.UUID
			var name string
			var quantity int
			var unitPrice float64
			var optionsJSON []byte
			var note *string
			if err := rows.Scan(&itemID, &menuItemID, &name, &quantity, &unitPrice, &optionsJSON, &note); err != nil {
				continue
			}
			var options []fiber.Map
			if err := json.Unmarshal(optionsJSON, &options); err != nil {
				options = []fiber.Map{}
			}
			items = append(items, fiber.Map{
				"id":           itemID,
				"menu_item_id": menuItemID,
				"name":         name,
				"quantity":     quantity,
				"unit_price":   unitPrice,
				"options":      options,
				"note":         note,
			})
		}
		rows.Close()
	}

	return c.JSON(fiber.Map{
		"id":             orderID,
		"order_number":   orderNumber,
		"table_number":   tableNumber,
		"status":         status,
		"payment_method": paymentMethod,
		"payment_status": paymentStatus,
		"subtotal":       subtotal,
		"tax":            tax,
		"discount":       discount,
		"total":          total,
		"notes":          notes,
		"member_id":      memberID,
		"items":          items,
		"created_at":     createdAt,
		"completed_at":   completedAt,
		"paid_at":        paidAt,
	})
}

// KitchenOrders lists orders the kitchen still has to act on
func (h *OrdersHandler) KitchenOrders(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
		SELECT o.id, o.order_number, o.table_number, o.status, o.created_at,
		       oi.name, oi.quantity, oi.options, oi.note
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.store_id = $1 AND o.status IN ('new', 'preparing')
		ORDER BY o.created_at, oi.created_at`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch kitchen orders"})
	}
	defer rows.Close()

	// Group item rows per order, oldest first
	orderIndex := map[uuid.UUID]int{}
	orders := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var orderNumber string
		var tableNumber *string
		var status string
		var createdAt time.Time
		var itemName string
		var quantity int
		var optionsJSON []byte
		var note *string

		if err := rows.Scan(&id, &orderNumber, &tableNumber, &status, &createdAt,
			&itemName, &quantity, &optionsJSON, &note); err != nil {
			continue
		}

		var options []fiber.Map
		if err := json.Unmarshal(optionsJSON, &options); err != nil {
			options = []fiber.Map{}
		}
		itemEntry := fiber.Map{
			"name":     itemName,
			"quantity": quantity,
			"options":  options,
			"note":     note,
		}

		if idx, seen := orderIndex[id]; seen {
			orders[idx]["items"] = append(orders[idx]["items"].([]fiber.Map), itemEntry)
			continue
		}
		orderIndex[id] = len(orders)
		orders = append(orders, fiber.Map{
			"id":           id,
			"order_number": orderNumber,
			"table_number": tableNumber,
			"status":       status,
			"created_at":   createdAt,
			"items":        []fiber.Map{itemEntry},
		})
	}

	return c.JSON(fiber.Map{"orders": orders})
}

// UpdateOrderStatus moves an order through its lifecycle
func (h *OrdersHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	newStatus := strings.ToLower(strings.TrimSpace(req.Status))
	switch newStatus {
	case "preparing", "ready", "completed", "cancelled":
	default:
		return c.Status(400).JSON(fiber.Map{"error": "Invalid status"})
	}

	ctx := context.Background()
	var currentStatus, orderNumber, paymentStatus string
	var total float64
	var memberID *uuid.UUID
	err = h.db.QueryRow(ctx, `
		SELECT status, order_number, payment_status, total, member_id FROM orders
		WHERE id = $1 AND store_id = $2`,
		orderID, storeID).Scan(&currentStatus, &orderNumber, &paymentStatus, &total, &memberID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}

	if !transitionAllowed(currentStatus, newStatus) {
		return c.Status(409).JSON(fiber.Map{
			"error": "Cannot change status from " + currentStatus + " to " + newStatus,
		})
	}

	if newStatus == "completed" {
		if _, err := h.db.Exec(ctx, `
			UPDATE orders SET status = 'completed', completed_at = NOW()
			WHERE id = $1`, orderID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to update order"})
		}
		h.settleCompletedOrder(ctx, storeID, orderID, total, memberID, paymentStatus)
		metrics.IncrementOrderOperation("complete")
		metrics.ObserveOrderValue(total)
	} else {
		if _, err := h.db.Exec(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, newStatus, orderID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to update order"})
		}
		if newStatus == "cancelled" {
			metrics.IncrementOrderOperation("cancel")
		} else {
			metrics.IncrementOrderOperation("status_change")
		}
	}

	h.hub.NotifyOrderStatus(storeID, ws.OrderStatusEvent{
		OrderID:     orderID.String(),
		OrderNumber: orderNumber,
		Status:      newStatus,
	})

	return c.JSON(fiber.Map{"id": orderID, "status": newStatus})
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// settleCompletedOrder decrements linked stock and awards loyalty points.
// Points require a settled payment; stock leaves the store either way.
// Failures here are logged, not surfaced; the order is already completed.
func (h *OrdersHandler) settleCompletedOrder(ctx context.Context, storeID, orderID uuid.UUID, total float64, memberID *uuid.UUID, paymentStatus string) {
	rows, err := h.db.Query(ctx, `
		SELECT oi.menu_item_id, oi.quantity
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.menu_item_id IS NOT NULL`,
		orderID)
	if err == nil {
		type consumed struct {
			menuItemID uuid.UUID
			quantity   int
		}
		lines := []consumed{}
		for rows.Next() {
			var entry consumed
			if err := rows.Scan(&entry.menuItemID, &entry.quantity); err == nil {
				lines = append(lines, entry)
			}
		}
		rows.Close()

		for _, line := range lines {
			h.consumeStock(ctx, storeID, line.menuItemID, line.quantity)
		}
	}

	if memberID != nil && paymentStatus == "paid" {
		points := int(total / 10)
		if points > 0 {
			if err := AwardPoints(ctx, h.db, *memberID, points, "Order "+orderID.String(), &orderID); err != nil {
				log.Printf("failed to award loyalty points for order %s: %v", orderID, err)
			} else {
				metrics.IncrementLoyaltyPoints("earned", points)
			}
		}
	}
}

// consumeStock subtracts sold quantities from the linked stock item, floored at zero
func (h *OrdersHandler) consumeStock(ctx context.Context, storeID, menuItemID uuid.UUID, quantity int) {
	var stockItemID, productID uuid.UUID
	var productName string
	var current, threshold int
	err := h.db.QueryRow(ctx, `
		SELECT si.id, p.id, p.name, si.quantity, si.low_stock_threshold
		FROM products p
		JOIN stock_items si ON si.product_id = p.id
		WHERE p.store_id = $1 AND p.menu_item_id = $2 AND p.deleted_at IS NULL`,
		storeID, menuItemID).Scan(&stockItemID, &productID, &productName, &current, &threshold)
	if err != nil {
		return // item not stock-tracked
	}

	consumed := quantity
	if consumed > current {
		consumed = current
	}
	if consumed > 0 {
		if _, err := h.db.Exec(ctx, `
			UPDATE stock_items SET quantity = quantity - $1 WHERE id = $2 AND quantity >= $1`,
			consumed, stockItemID); err != nil {
			log.Printf("failed to decrement stock for product %s: %v", productID, err)
			return
		}
		h.db.Exec(ctx, `
			INSERT INTO stock_movements (stock_item_id, movement_type, quantity, reason)
			VALUES ($1, 'subtract', $2, 'order sale')`,
			stockItemID, consumed)
	}

	remaining := current - consumed
	if remaining <= threshold {
		severity := "medium"
		if remaining == 0 {
			severity = "high"
		}
		h.hub.NotifyStockAlert(storeID, ws.StockAlertEvent{
			ProductID: productID.String(),
			Name:      productName,
			Quantity:  remaining,
			Severity:  severity,
		})
	}
}

// UploadSlip attaches a payment slip image to a QR order
func (h *OrdersHandler) UploadSlip(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order id"})
	}

	var req struct {
		Image string `json:"image" validate:"required"` // base64
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Image == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Slip image is required"})
	}
	imageData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Slip image must be base64 encoded"})
	}
	// 5 MB cap keeps slip rows manageable
	if len(imageData) > 5*1024*1024 {
		return c.Status(400).JSON(fiber.Map{"error": "Slip image too large"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		UPDATE orders SET slip_image = $1
		WHERE id = $2 AND store_id = $3 AND payment_method = 'qr_code'`,
		imageData, orderID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to store slip"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "QR order not found"})
	}

	return c.JSON(fiber.Map{"message": "Slip uploaded"})
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

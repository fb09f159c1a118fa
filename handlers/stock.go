package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"goodsale/database"
	"goodsale/metrics"
	ws "goodsale/websocket"
)

// StockHandler handles product and inventory requests
type StockHandler struct {
	db  database.Database
	hub *ws.Hub
}

// NewStockHandler creates a new stock handler
func NewStockHandler(db database.Database, hub *ws.Hub) *StockHandler {
	return &StockHandler{db: db, hub: hub}
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	Name       string  `json:"name" validate:"required"`
	Barcode    string  `json:"barcode,omitempty"`
	Category   string  `json:"category,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	MenuItemID string  `json:"menu_item_id,omitempty"`

	// Initial inventory
	Quantity          int `json:"quantity,omitempty"`
	LowStockThreshold int `json:"low_stock_threshold,omitempty"`
}

// AdjustStockRequest represents an inventory adjustment
type AdjustStockRequest struct {
	MovementType string `json:"movement_type" validate:"required"` // add | subtract
	Quantity     int    `json:"quantity" validate:"required,min=1"`
	Reason       string `json:"reason,omitempty"`
}

// GetProducts lists a store's products with current stock levels
func (h *StockHandler) GetProducts(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
		SELECT p.id, p.name, p.barcode, p.category, p.unit, p.price, p.cost, p.menu_item_id,
		       COALESCE(si.quantity, 0), COALESCE(si.low_stock_threshold, 10), p.created_at
		FROM products p
		LEFT JOIN stock_items si ON si.product_id = p.id
		WHERE p.store_id = $1 AND p.deleted_at IS NULL
		ORDER BY p.name`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch products"})
	}
	defer rows.Close()

	products := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var barcode, category *string
		var unit string
		var price, cost float64
		var menuItemID *uuid.UUID
		var quantity, threshold int
		var createdAt time.Time

		if err := rows.Scan(&id, &name, &barcode, &category, &unit, &price, &cost, &menuItemID,
			&quantity, &threshold, &createdAt); err != nil {
			continue
		}
		products = append(products, fiber.Map{
			"id":                  id,
			"name":                name,
			"barcode":             barcode,
			"category":            category,
			"unit":                unit,
			"price":               price,
			"cost":                cost,
			"menu_item_id":        menuItemID,
			"quantity":            quantity,
			"low_stock_threshold": threshold,
			"created_at":          createdAt,
		})
	}

	return c.JSON(fiber.Map{"products": products})
}

// CreateProduct adds a product and its inventory record
func (h *StockHandler) CreateProduct(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateProductRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Product name is required"})
	}
	if req.Quantity < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Quantity cannot be negative"})
	}

	var menuItemID *uuid.UUID
	if req.MenuItemID != "" {
		parsed, err := uuid.Parse(req.MenuItemID)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid menu item id"})
		}
		menuItemID = &parsed
	}

	unit := req.Unit
	if unit == "" {
		unit = "piece"
	}
	threshold := req.LowStockThreshold
	if threshold <= 0 {
		threshold = 10
	}

	ctx := context.Background()
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	var productID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO products (store_id, name, barcode, category, unit, price, cost, menu_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		storeID, req.Name, nullIfEmpty(req.Barcode), nullIfEmpty(req.Category), unit,
		req.Price, req.Cost, menuItemID).Scan(&productID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "Barcode already in use"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create product"})
	}

	var stockItemID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_items (store_id, product_id, quantity, low_stock_threshold)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		storeID, productID, req.Quantity, threshold).Scan(&stockItemID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create product"})
	}

	if req.Quantity > 0 {
		userID := c.Locals("user_id").(uuid.UUID)
		tx.Exec(ctx, `
			INSERT INTO stock_movements (stock_item_id, movement_type, quantity, reason, created_by)
			VALUES ($1, 'add', $2, 'initial stock', $3)`,
			stockItemID, req.Quantity, userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create product"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":       productID,
		"name":     req.Name,
		"quantity": req.Quantity,
	})
}

// DeleteProduct soft-deletes a product
func (h *StockHandler) DeleteProduct(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	productID, err := uuid.Parse(c.Params("product_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid product id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		UPDATE products SET deleted_at = NOW()
		WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL`,
		productID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete product"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Product not found"})
	}
	return c.JSON(fiber.Map{"message": "Product deleted"})
}

// AdjustStock applies an add or subtract movement to a product's inventory.
// Stock never goes below zero; an oversized subtraction is rejected.
func (h *StockHandler) AdjustStock(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)
	productID, err := uuid.Parse(c.Params("product_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid product id"})
	}

	var req AdjustStockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.MovementType != "add" && req.MovementType != "subtract" {
		return c.Status(400).JSON(fiber.Map{"error": "movement_type must be add or subtract"})
	}
	if req.Quantity <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Quantity must be positive"})
	}

	ctx := context.Background()
	var stockItemID uuid.UUID
	var current, threshold int
	var productName string
	err = h.db.QueryRow(ctx, `
		SELECT si.id, si.quantity, si.low_stock_threshold, p.name
		FROM stock_items si
		JOIN products p ON p.id = si.product_id
		WHERE si.product_id = $1 AND si.store_id = $2 AND p.deleted_at IS NULL`,
		productID, storeID).Scan(&stockItemID, &current, &threshold, &productName)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Product not found"})
	}

	newQuantity := current + req.Quantity
	if req.MovementType == "subtract" {
		if req.Quantity > current {
			return c.Status(400).JSON(fiber.Map{"error": "Cannot subtract more than current stock"})
		}
		newQuantity = current - req.Quantity
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE stock_items SET quantity = $1 WHERE id = $2`, newQuantity, stockItemID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to adjust stock"})
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (stock_item_id, movement_type, quantity, reason, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		stockItemID, req.MovementType, req.Quantity, nullIfEmpty(req.Reason), userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to adjust stock"})
	}
	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to adjust stock"})
	}

	if newQuantity <= threshold {
		severity := "medium"
		if newQuantity == 0 {
			severity = "high"
		}
		h.hub.NotifyStockAlert(storeID, ws.StockAlertEvent{
			ProductID: productID.String(),
			Name:      productName,
			Quantity:  newQuantity,
			Severity:  severity,
		})
	}
	h.refreshAlertGauge(ctx)

	return c.JSON(fiber.Map{
		"product_id": productID,
		"quantity":   newQuantity,
	})
}

// GetAlerts lists stock items at or below their low stock threshold
func (h *StockHandler) GetAlerts(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
		SELECT p.id, p.name, si.quantity, si.low_stock_threshold
		FROM stock_items si
		JOIN products p ON p.id = si.product_id AND p.deleted_at IS NULL
		WHERE si.store_id = $1 AND si.quantity <= si.low_stock_threshold
		ORDER BY si.quantity`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch alerts"})
	}
	defer rows.Close()

	alerts := []fiber.Map{}
	for rows.Next() {
		var productID uuid.UUID
		var name string
		var quantity, threshold int
		if err := rows.Scan(&productID, &name, &quantity, &threshold); err != nil {
			continue
		}
		severity := "medium"
		if quantity == 0 {
			severity = "high"
		}
		alerts = append(alerts, fiber.Map{
			"product_id":          productID,
			"name":                name,
			"quantity":            quantity,
			"low_stock_threshold": threshold,
			"severity":            severity,
		})
	}

	metrics.UpdateStockAlerts(len(alerts))
	return c.JSON(fiber.Map{"alerts": alerts})
}

// ScanBarcode looks up a product by its barcode
func (h *StockHandler) ScanBarcode(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	barcode := strings.TrimSpace(c.Params("barcode"))
	if barcode == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Barcode is required"})
	}

	ctx := context.Background()
	var productID uuid.UUID
	var name string
	var category *string
	var unit string
	var price float64
	var menuItemID *uuid.UUID
	var quantity int

	err := h.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.category, p.unit, p.price, p.menu_item_id, COALESCE(si.quantity, 0)
		FROM products p
		LEFT JOIN stock_items si ON si.product_id = p.id
		WHERE p.store_id = $1 AND p.barcode = $2 AND p.deleted_at IS NULL`,
		storeID, barcode).Scan(&productID, &name, &category, &unit, &price, &menuItemID, &quantity)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Product not found"})
	}

	return c.JSON(fiber.Map{
		"id":           productID,
		"name":         name,
		"category":     category,
		"unit":         unit,
		"price":        price,
		"menu_item_id": menuItemID,
		"quantity":     quantity,
		"barcode":      barcode,
	})
}

// GetMovements lists recent stock movements for a product
func (h *StockHandler) GetMovements(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	productID, err := uuid.Parse(c.Params("product_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid product id"})
	}

	ctx := context.Background()
	rows, err := h.db.Query(ctx, `
		SELECT sm.id, sm.movement_type, sm.quantity, sm.reason, sm.created_by, sm.created_at
		FROM stock_movements sm
		JOIN stock_items si ON si.id = sm.stock_item_id
		WHERE si.product_id = $1 AND si.store_id = $2
		ORDER BY sm.created_at DESC
		LIMIT 100`,
		productID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch movements"})
	}
	defer rows.Close()

	movements := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var movementType string
		var quantity int
		var reason *string
		var createdBy *uuid.UUID
		var createdAt time.Time
		if err := rows.Scan(&id, &movementType, &quantity, &reason, &createdBy, &createdAt); err != nil {
			continue
		}
		movements = append(movements, fiber.Map{
			"id":            id,
			"movement_type": movementType,
			"quantity":      quantity,
			"reason":        reason,
			"created_by":    createdBy,
			"created_at":    createdAt,
		})
	}

	return c.JSON(fiber.Map{"movements": movements})
}

func (h *StockHandler) refreshAlertGauge(ctx context.Context) {
	var count int
	if err := h.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_items WHERE quantity <= low_stock_threshold`).Scan(&count); err == nil {
		metrics.UpdateStockAlerts(count)
	}
}

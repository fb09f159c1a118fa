package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goodsale/database"
	"goodsale/metrics"
)

// menuCacheTTL bounds how stale a cached menu may get
const menuCacheTTL = 5 * time.Minute

// MenuHandler handles menu management requests
type MenuHandler struct {
	db    database.Database
	redis *redis.Client
}

// NewMenuHandler creates a new menu handler
func NewMenuHandler(db database.Database, redisClient *redis.Client) *MenuHandler {
	return &MenuHandler{db: db, redis: redisClient}
}

// CreateCategoryRequest represents a request to create a menu category
type CreateCategoryRequest struct {
	Name         string `json:"name" validate:"required"`
	DisplayOrder int    `json:"display_order,omitempty"`
}

// CreateMenuItemRequest represents a request to create a menu item
type CreateMenuItemRequest struct {
	CategoryID      string  `json:"category_id,omitempty"`
	Name            string  `json:"name" validate:"required"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price" validate:"required"`
	Cost            float64 `json:"cost,omitempty"`
	ImageURL        string  `json:"image_url,omitempty"`
	IsFeatured      bool    `json:"is_featured,omitempty"`
	IsCustomOrder   bool    `json:"is_custom_order,omitempty"`
	PreparationTime int     `json:"preparation_time,omitempty"`
}

// UpdateMenuItemRequest represents a request to update a menu item
type UpdateMenuItemRequest struct {
	CategoryID      *string  `json:"category_id,omitempty"`
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Cost            *float64 `json:"cost,omitempty"`
	ImageURL        *string  `json:"image_url,omitempty"`
	IsAvailable     *bool    `json:"is_available,omitempty"`
	IsFeatured      *bool    `json:"is_featured,omitempty"`
	PreparationTime *int     `json:"preparation_time,omitempty"`
}

// ToppingRequest represents a request to add a topping to a menu item
type ToppingRequest struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price,omitempty"`
}

// SizeRequest represents a request to add a size to a menu item
type SizeRequest struct {
	Name       string  `json:"name" validate:"required"`
	PriceDelta float64 `json:"price_delta,omitempty"`
}

func menuCacheKey(storeID uuid.UUID) string {
	return "menu:" + storeID.String()
}

// invalidateCache drops the cached menu after any write
func (h *MenuHandler) invalidateCache(ctx context.Context, storeID uuid.UUID) {
	if err := h.redis.Del(ctx, menuCacheKey(storeID)).Err(); err != nil {
		metrics.IncrementError("redis", "menu_cache")
	}
	metrics.IncrementRedisOperation("del")
}

// GetMenu godoc
// @Summary Full menu for a store
// @Description Return categories, items, toppings, sizes, and sweetness levels. Served from Redis when fresh.
// @Tags Menu
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Menu"
// @Router /stores/{store_id}/menu [get]
func (h *MenuHandler) GetMenu(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	metrics.IncrementRedisOperation("get")
	if cached, err := h.redis.Get(ctx, menuCacheKey(storeID)).Bytes(); err == nil {
		metrics.IncrementCacheRequest("menu", "hit")
		c.Set("Content-Type", "application/json")
		return c.Send(cached)
	}
	metrics.IncrementCacheRequest("menu", "miss")

	menu, err := h.buildMenu(ctx, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch menu"})
	}

	if data, err := json.Marshal(menu); err == nil {
		metrics.IncrementRedisOperation("set")
		h.redis.Set(ctx, menuCacheKey(storeID), data, menuCacheTTL)
	}

	return c.JSON(menu)
}

func (h *MenuHandler) buildMenu(ctx context.Context, storeID uuid.UUID) (fiber.Map, error) {
	categories := []fiber.Map{}
	rows, err := h.db.Query(ctx, `
		SELECT id, name, display_order
		FROM menu_categories
		WHERE store_id = $1
		ORDER BY display_order, name`,
		storeID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var displayOrder int
		if err := rows.Scan(&id, &name, &displayOrder); err != nil {
			continue
		}
		categories = append(categories, fiber.Map{
			"id":            id,
			"name":          name,
			"display_order": displayOrder,
		})
	}
	rows.Close()

	items := []fiber.Map{}
	itemIDs := []uuid.UUID{}
	rows, err = h.db.Query(ctx, `
		SELECT id, category_id, name, description, price, cost, image_url,
		       is_available, is_featured, is_custom_order, preparation_time
		FROM menu_items
		WHERE store_id = $1 AND deleted_at IS NULL
		ORDER BY name`,
		storeID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id uuid.UUID
		var categoryID *uuid.UUID
		var name string
		var description, imageURL *string
		var price, cost float64
		var isAvailable, isFeatured, isCustomOrder bool
		var preparationTime int
		if err := rows.Scan(&id, &categoryID, &name, &description, &price, &cost, &imageURL,
			&isAvailable, &isFeatured, &isCustomOrder, &preparationTime); err != nil {
			continue
		}
		itemIDs = append(itemIDs, id)
		items = append(items, fiber.Map{
			"id":               id,
			"category_id":      categoryID,
			"name":             name,
			"description":      description,
			"price":            price,
			"cost":             cost,
			"image_url":        imageURL,
			"is_available":     isAvailable,
			"is_featured":      isFeatured,
			"is_custom_order":  isCustomOrder,
			"preparation_time": preparationTime,
			"toppings":         []fiber.Map{},
			"sizes":            []fiber.Map{},
		})
	}
	rows.Close()

	for i, itemID := range itemIDs {
		toppings := []fiber.Map{}
		toppingRows, err := h.db.Query(ctx, `
			SELECT id, name, price, is_available FROM menu_toppings
			WHERE menu_item_id = $1 ORDER BY name`, itemID)
		if err == nil {
			for toppingRows.Next() {
				var id uuid.UUID
				var name string
				var price float64
				var isAvailable bool
				if err := toppingRows.Scan(&id, &name, &price, &isAvailable); err == nil {
					toppings = append(toppings, fiber.Map{
						"id": id, "name": name, "price": price, "is_available": isAvailable,
					})
				}
			}
			toppingRows.Close()
		}
		items[i]["toppings"] = toppings

		sizes := []fiber.Map{}
		sizeRows, err := h.db.Query(ctx, `
			SELECT id, name, price_delta FROM menu_sizes
			WHERE menu_item_id = $1 ORDER BY price_delta`, itemID)
		if err == nil {
			for sizeRows.Next() {
				var id uuid.UUID
				var name string
				var priceDelta float64
				if err := sizeRows.Scan(&id, &name, &priceDelta); err == nil {
					sizes = append(sizes, fiber.Map{
						"id": id, "name": name, "price_delta": priceDelta,
					})
				}
			}
			sizeRows.Close()
		}
		items[i]["sizes"] = sizes
	}

	sweetness := []fiber.Map{}
	rows, err = h.db.Query(ctx, `
		SELECT id, name, percentage FROM sweetness_levels
		WHERE store_id = $1 ORDER BY percentage`,
		storeID)
	if err == nil {
		for rows.Next() {
			var id uuid.UUID
			var name string
			var percentage int
			if err := rows.Scan(&id, &name, &percentage); err == nil {
				sweetness = append(sweetness, fiber.Map{
					"id": id, "name": name, "percentage": percentage,
				})
			}
		}
		rows.Close()
	}

	return fiber.Map{
		"categories":       categories,
		"items":            items,
		"sweetness_levels": sweetness,
	}, nil
}

// CreateCategory adds a menu category
func (h *MenuHandler) CreateCategory(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateCategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Category name is required"})
	}

	ctx := context.Background()
	var categoryID uuid.UUID
	err := h.db.QueryRow(ctx, `
		INSERT INTO menu_categories (store_id, name, display_order)
		VALUES ($1, $2, $3)
		RETURNING id`,
		storeID, req.Name, req.DisplayOrder).Scan(&categoryID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "Category already exists"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create category"})
	}

	h.invalidateCache(ctx, storeID)
	return c.Status(201).JSON(fiber.Map{"id": categoryID, "name": req.Name})
}

// DeleteCategory removes a menu category. Items keep existing uncategorized.
func (h *MenuHandler) DeleteCategory(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	categoryID, err := uuid.Parse(c.Params("category_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid category id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `DELETE FROM menu_categories WHERE id = $1 AND store_id = $2`, categoryID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete category"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Category not found"})
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Category deleted"})
}

// CreateMenuItem adds a menu item
func (h *MenuHandler) CreateMenuItem(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateMenuItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Item name is required"})
	}
	if req.Price < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Price cannot be negative"})
	}

	var categoryID *uuid.UUID
	if req.CategoryID != "" {
		parsed, err := uuid.Parse(req.CategoryID)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid category id"})
		}
		categoryID = &parsed
	}

	ctx := context.Background()
	if categoryID != nil {
		var exists bool
		h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menu_categories WHERE id = $1 AND store_id = $2)`,
			*categoryID, storeID).Scan(&exists)
		if !exists {
			return c.Status(404).JSON(fiber.Map{"error": "Category not found"})
		}
	}

	var itemID uuid.UUID
	err := h.db.QueryRow(ctx, `
		INSERT INTO menu_items (store_id, category_id, name, description, price, cost, image_url,
		                        is_featured, is_custom_order, preparation_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		storeID, categoryID, req.Name, req.Description, req.Price, req.Cost, req.ImageURL,
		req.IsFeatured, req.IsCustomOrder, req.PreparationTime).Scan(&itemID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create menu item"})
	}

	h.invalidateCache(ctx, storeID)
	return c.Status(201).JSON(fiber.Map{"id": itemID, "name": req.Name, "price": req.Price})
}

// UpdateMenuItem updates fields of a menu item
func (h *MenuHandler) UpdateMenuItem(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("item_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid item id"})
	}

	var req UpdateMenuItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()
	var exists bool
	h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menu_items WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL)`,
		itemID, storeID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Menu item not found"})
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Item name cannot be empty"})
		}
		h.db.Exec(ctx, `UPDATE menu_items SET name = $1 WHERE id = $2`, name, itemID)
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			h.db.Exec(ctx, `UPDATE menu_items SET category_id = NULL WHERE id = $1`, itemID)
		} else {
			categoryID, err := uuid.Parse(*req.CategoryID)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "Invalid category id"})
			}
			h.db.Exec(ctx, `UPDATE menu_items SET category_id = $1 WHERE id = $2`, categoryID, itemID)
		}
	}
	if req.Description != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET description = $1 WHERE id = $2`, *req.Description, itemID)
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return c.Status(400).JSON(fiber.Map{"error": "Price cannot be negative"})
		}
		h.db.Exec(ctx, `UPDATE menu_items SET price = $1 WHERE id = $2`, *req.Price, itemID)
	}
	if req.Cost != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET cost = $1 WHERE id = $2`, *req.Cost, itemID)
	}
	if req.ImageURL != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET image_url = $1 WHERE id = $2`, *req.ImageURL, itemID)
	}
	if req.IsAvailable != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET is_available = $1 WHERE id = $2`, *req.IsAvailable, itemID)
	}
	if req.IsFeatured != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET is_featured = $1 WHERE id = $2`, *req.IsFeatured, itemID)
	}
	if req.PreparationTime != nil {
		h.db.Exec(ctx, `UPDATE menu_items SET preparation_time = $1 WHERE id = $2`, *req.PreparationTime, itemID)
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Menu item updated"})
}

// DeleteMenuItem soft-deletes a menu item
func (h *MenuHandler) DeleteMenuItem(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("item_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid item id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		UPDATE menu_items SET deleted_at = NOW()
		WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL`,
		itemID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete menu item"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Menu item not found"})
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Menu item deleted"})
}

// AddTopping attaches a topping to a menu item
func (h *MenuHandler) AddTopping(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("item_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid item id"})
	}

	var req ToppingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Topping name is required"})
	}
	if req.Price < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Price cannot be negative"})
	}

	ctx := context.Background()
	var exists bool
	h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menu_items WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL)`,
		itemID, storeID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Menu item not found"})
	}

	var toppingID uuid.UUID
	err = h.db.QueryRow(ctx, `
		INSERT INTO menu_toppings (menu_item_id, name, price)
		VALUES ($1, $2, $3)
		RETURNING id`,
		itemID, req.Name, req.Price).Scan(&toppingID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to add topping"})
	}

	h.invalidateCache(ctx, storeID)
	return c.Status(201).JSON(fiber.Map{"id": toppingID, "name": req.Name, "price": req.Price})
}

// RemoveTopping deletes a topping from a menu item
func (h *MenuHandler) RemoveTopping(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	toppingID, err := uuid.Parse(c.Params("topping_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid topping id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		DELETE FROM menu_toppings t
		USING menu_items i
		WHERE t.id = $1 AND t.menu_item_id = i.id AND i.store_id = $2`,
		toppingID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove topping"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Topping not found"})
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Topping removed"})
}

// AddSize attaches a size option to a menu item
func (h *MenuHandler) AddSize(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("item_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid item id"})
	}

	var req SizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Size name is required"})
	}

	ctx := context.Background()
	var exists bool
	h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menu_items WHERE id = $1 AND store_id = $2 AND deleted_at IS NULL)`,
		itemID, storeID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Menu item not found"})
	}

	var sizeID uuid.UUID
	err = h.db.QueryRow(ctx, `
		INSERT INTO menu_sizes (menu_item_id, name, price_delta)
		VALUES ($1, $2, $3)
		RETURNING id`,
		itemID, req.Name, req.PriceDelta).Scan(&sizeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to add size"})
	}

	h.invalidateCache(ctx, storeID)
	return c.Status(201).JSON(fiber.Map{"id": sizeID, "name": req.Name, "price_delta": req.PriceDelta})
}

// RemoveSize deletes a size option from a menu item
func (h *MenuHandler) RemoveSize(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	sizeID, err := uuid.Parse(c.Params("size_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid size id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		DELETE FROM menu_sizes s
		USING menu_items i
		WHERE s.id = $1 AND s.menu_item_id = i.id AND i.store_id = $2`,
		sizeID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove size"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Size not found"})
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Size removed"})
}

// SetSweetnessLevels replaces the store's sweetness scale
func (h *MenuHandler) SetSweetnessLevels(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req struct {
		Levels []struct {
			Name       string `json:"name"`
			Percentage int    `json:"percentage"`
		} `json:"levels"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if len(req.Levels) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "At least one level is required"})
	}

	ctx := context.Background()
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sweetness_levels WHERE store_id = $1`, storeID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update sweetness levels"})
	}
	for _, level := range req.Levels {
		name := strings.TrimSpace(level.Name)
		if name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Level name cannot be empty"})
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sweetness_levels (store_id, name, percentage)
			VALUES ($1, $2, $3)`,
			storeID, name, level.Percentage); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to update sweetness levels"})
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update sweetness levels"})
	}

	h.invalidateCache(ctx, storeID)
	return c.JSON(fiber.Map{"message": "Sweetness levels updated", "count": len(req.Levels)})
}

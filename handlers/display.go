package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"goodsale/database"
	ws "goodsale/websocket"
)

// DisplayHandler handles the customer-facing display screen
type DisplayHandler struct {
	db  database.Database
	hub *ws.Hub
}

// NewDisplayHandler creates a new display handler
func NewDisplayHandler(db database.Database, hub *ws.Hub) *DisplayHandler {
	return &DisplayHandler{db: db, hub: hub}
}

// CreateAdRequest represents a request to create an advertisement
type CreateAdRequest struct {
	Title           string  `json:"title" validate:"required"`
	Content         string  `json:"content"`
	ImageURL        string  `json:"image_url"`
	DisplayDuration int     `json:"display_duration"`
	Priority        int     `json:"priority"`
	StartDate       *string `json:"start_date"`
	EndDate         *string `json:"end_date"`
}

// UpdateAdRequest represents a request to update an advertisement
type UpdateAdRequest struct {
	Title           *string `json:"title"`
	Content         *string `json:"content"`
	ImageURL        *string `json:"image_url"`
	DisplayDuration *int    `json:"display_duration"`
	Priority        *int    `json:"priority"`
	IsActive        *bool   `json:"is_active"`
	StartDate       *string `json:"start_date"`
	EndDate         *string `json:"end_date"`
}

// UpdateDisplaySettingsRequest represents a request to update display settings
type UpdateDisplaySettingsRequest struct {
	WelcomeText     *string `json:"welcome_text"`
	Theme           *string `json:"theme"`
	ShowOrderStatus *bool   `json:"show_order_status"`
}

func parseAdDate(s *string) (*time.Time, bool) {
	if s == nil || *s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		if t, err = time.Parse("2006-01-02", *s); err != nil {
			return nil, false
		}
	}
	return &t, true
}

// GetAds lists a store's advertisements
func (h *DisplayHandler) GetAds(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	ctx := context.Background()
	rows, err := h.db.Query(ctx, `
		SELECT id, title, content, image_url, display_duration, priority,
		       start_date, end_date, is_active, display_count, created_at
		FROM advertisements
		WHERE store_id = $1
		ORDER BY priority DESC, created_at DESC`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch advertisements"})
	}
	defer rows.Close()

	ads := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var title string
		var content, imageURL *string
		var duration, priority, displayCount int
		var startDate, endDate *time.Time
		var isActive bool
		var createdAt time.Time
		if err := rows.Scan(&id, &title, &content, &imageURL, &duration, &priority,
			&startDate, &endDate, &isActive, &displayCount, &createdAt); err != nil {
			continue
		}
		ads = append(ads, fiber.Map{
			"id":               id,
			"title":            title,
			"content":          content,
			"image_url":        imageURL,
			"display_duration": duration,
			"priority":         priority,
			"start_date":       startDate,
			"end_date":         endDate,
			"is_active":        isActive,
			"display_count":    displayCount,
			"created_at":       createdAt,
		})
	}

	return c.JSON(fiber.Map{"advertisements": ads})
}

// CreateAd adds an advertisement to the store display rotation
func (h *DisplayHandler) CreateAd(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req CreateAdRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	if req.DisplayDuration <= 0 {
		req.DisplayDuration = 10
	}
	startDate, ok := parseAdDate(req.StartDate)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid start date"})
	}
	endDate, ok := parseAdDate(req.EndDate)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid end date"})
	}
	if startDate != nil && endDate != nil && endDate.Before(*startDate) {
		return c.Status(400).JSON(fiber.Map{"error": "End date before start date"})
	}

	ctx := context.Background()
	var adID uuid.UUID
	err := h.db.QueryRow(ctx, `
		INSERT INTO advertisements (store_id, title, content, image_url, display_duration, priority, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		storeID, req.Title, nullIfEmpty(req.Content), nullIfEmpty(req.ImageURL),
		req.DisplayDuration, req.Priority, startDate, endDate).Scan(&adID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create advertisement"})
	}

	h.hub.NotifyDisplayUpdate(storeID, ws.DisplayUpdateEvent{Reason: "ads_changed"})

	return c.Status(201).JSON(fiber.Map{"id": adID, "title": req.Title})
}

// UpdateAd edits an advertisement
func (h *DisplayHandler) UpdateAd(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	adID, err := uuid.Parse(c.Params("ad_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid advertisement id"})
	}

	var req UpdateAdRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()
	var exists bool
	if err := h.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM advertisements WHERE id = $1 AND store_id = $2)`,
		adID, storeID).Scan(&exists); err != nil || !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Advertisement not found"})
	}

	if req.Title != nil {
		h.db.Exec(ctx, `UPDATE advertisements SET title = $1 WHERE id = $2`, *req.Title, adID)
	}
	if req.Content != nil {
		h.db.Exec(ctx, `UPDATE advertisements SET content = $1 WHERE id = $2`, nullIfEmpty(*req.Content), adID)
	}
	if req.ImageURL != nil {
		h.db.Exec(ctx, `UPDATE advertisements SET image_url = $1 WHERE id = $2`, nullIfEmpty(*req.ImageURL), adID)
	}
	if req.DisplayDuration != nil && *req.DisplayDuration > 0 {
		h.db.Exec(ctx, `UPDATE advertisements SET display_duration = $1 WHERE id = $2`, *req.DisplayDuration, adID)
	}
	if req.Priority != nil {
		h.db.Exec(ctx, `UPDATE advertisements SET priority = $1 WHERE id = $2`, *req.Priority, adID)
	}
	if req.IsActive != nil {
		h.db.Exec(ctx, `UPDATE advertisements SET is_active = $1 WHERE id = $2`, *req.IsActive, adID)
	}
	if req.StartDate != nil {
		if startDate, ok := parseAdDate(req.StartDate); ok {
			h.db.Exec(ctx, `UPDATE advertisements SET start_date = $1 WHERE id = $2`, startDate, adID)
		}
	}
	if req.EndDate != nil {
		if endDate, ok := parseAdDate(req.EndDate); ok {
			h.db.Exec(ctx, `UPDATE advertisements SET end_date = $1 WHERE id = $2`, endDate, adID)
		}
	}

	h.hub.NotifyDisplayUpdate(storeID, ws.DisplayUpdateEvent{Reason: "ads_changed"})

	return c.JSON(fiber.Map{"message": "Advertisement updated"})
}

// DeleteAd removes an advertisement
func (h *DisplayHandler) DeleteAd(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	adID, err := uuid.Parse(c.Params("ad_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid advertisement id"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
		DELETE FROM advertisements WHERE id = $1 AND store_id = $2`, adID, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete advertisement"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Advertisement not found"})
	}

	h.hub.NotifyDisplayUpdate(storeID, ws.DisplayUpdateEvent{Reason: "ads_changed"})

	return c.JSON(fiber.Map{"message": "Advertisement deleted"})
}

// GetDisplayContent serves the customer display screen. No auth: the
// display device only knows its store id.
func (h *DisplayHandler) GetDisplayContent(c *fiber.Ctx) error {
	storeID, err := uuid.Parse(c.Params("store_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid store id"})
	}

	ctx := context.Background()
	var storeName string
	var isOpen bool
	err = h.db.QueryRow(ctx, `
		SELECT name, is_open FROM stores WHERE id = $1 AND deleted_at IS NULL`,
		storeID).Scan(&storeName, &isOpen)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Store not found"})
	}

	welcomeText := "Welcome"
	theme := "light"
	showOrderStatus := true
	h.db.QueryRow(ctx, `
		SELECT welcome_text, theme, show_order_status FROM display_settings WHERE store_id = $1`,
		storeID).Scan(&welcomeText, &theme, &showOrderStatus)

	rows, err := h.db.Query(ctx, `
		SELECT id, title, content, image_url, display_duration
		FROM advertisements
		WHERE store_id = $1 AND is_active = true
		  AND (start_date IS NULL OR start_date <= NOW())
		  AND (end_date IS NULL OR end_date >= NOW())
		ORDER BY priority DESC, created_at DESC`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch display content"})
	}
	defer rows.Close()

	ads := []fiber.Map{}
	adIDs := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		var title string
		var content, imageURL *string
		var duration int
		if err := rows.Scan(&id, &title, &content, &imageURL, &duration); err != nil {
			continue
		}
		ads = append(ads, fiber.Map{
			"id":               id,
			"title":            title,
			"content":          content,
			"image_url":        imageURL,
			"display_duration": duration,
		})
		adIDs = append(adIDs, id)
	}

	if len(adIDs) > 0 {
		h.db.Exec(ctx, `
			UPDATE advertisements SET display_count = display_count + 1 WHERE id = ANY($1)`,
			adIDs)
	}

	response := fiber.Map{
		"store_name":        storeName,
		"is_open":           isOpen,
		"welcome_text":      welcomeText,
		"theme":             theme,
		"show_order_status": showOrderStatus,
		"advertisements":    ads,
	}

	if showOrderStatus {
		readyRows, err := h.db.Query(ctx, `
			SELECT order_number FROM orders
			WHERE store_id = $1 AND status = 'ready'
			ORDER BY updated_at DESC
			LIMIT 10`,
			storeID)
		if err == nil {
			ready := []string{}
			for readyRows.Next() {
				var number string
				if err := readyRows.Scan(&number); err == nil {
					ready = append(ready, number)
				}
			}
			readyRows.Close()
			response["ready_orders"] = ready
		}
	}

	return c.JSON(response)
}

// GetDisplaySettings returns display settings for a store
func (h *DisplayHandler) GetDisplaySettings(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	ctx := context.Background()
	welcomeText := "Welcome"
	theme := "light"
	showOrderStatus := true
	h.db.QueryRow(ctx, `
		SELECT welcome_text, theme, show_order_status FROM display_settings WHERE store_id = $1`,
		storeID).Scan(&welcomeText, &theme, &showOrderStatus)

	return c.JSON(fiber.Map{
		"welcome_text":      welcomeText,
		"theme":             theme,
		"show_order_status": showOrderStatus,
	})
}

// UpdateDisplaySettings upserts display settings for a store
func (h *DisplayHandler) UpdateDisplaySettings(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	var req UpdateDisplaySettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Theme != nil && *req.Theme != "light" && *req.Theme != "dark" {
		return c.Status(400).JSON(fiber.Map{"error": "Theme must be light or dark"})
	}

	ctx := context.Background()
	welcomeText := "Welcome"
	theme := "light"
	showOrderStatus := true
	h.db.QueryRow(ctx, `
		SELECT welcome_text, theme, show_order_status FROM display_settings WHERE store_id = $1`,
		storeID).Scan(&welcomeText, &theme, &showOrderStatus)

	if req.WelcomeText != nil {
		welcomeText = *req.WelcomeText
	}
	if req.Theme != nil {
		theme = *req.Theme
	}
	if req.ShowOrderStatus != nil {
		showOrderStatus = *req.ShowOrderStatus
	}

	_, err := h.db.Exec(ctx, `
		INSERT INTO display_settings (store_id, welcome_text, theme, show_order_status, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (store_id) DO UPDATE SET
			welcome_text = EXCLUDED.welcome_text,
			theme = EXCLUDED.theme,
			show_order_status = EXCLUDED.show_order_status,
			updated_at = NOW()`,
		storeID, welcomeText, theme, showOrderStatus)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update settings"})
	}

	h.hub.NotifyDisplayUpdate(storeID, ws.DisplayUpdateEvent{Reason: "settings_changed"})

	return c.JSON(fiber.Map{
		"welcome_text":      welcomeText,
		"theme":             theme,
		"show_order_status": showOrderStatus,
	})
}

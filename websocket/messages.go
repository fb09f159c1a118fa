package websocket

// Event names pushed to store rooms
const (
	EventOrderCreated     = "order_created"
	EventOrderStatus      = "order_status"
	EventPaymentCompleted = "payment_completed"
	EventStockAlert       = "stock_alert"
	EventDisplayUpdate    = "display_update"
)

// Roles a connection may join a store room as
const (
	RoleStaff    = "staff"
	RoleKitchen  = "kitchen"
	RoleCustomer = "customer"
)

// WSMessage is the envelope every event shares on the wire
type WSMessage struct {
	Type    string      `json:"type"`
	StoreID string      `json:"store_id,omitempty"`
	Content interface{} `json:"content,omitempty"`
}

// OrderCreatedEvent announces a new order to staff and kitchen screens
type OrderCreatedEvent struct {
	OrderID     string  `json:"order_id"`
	OrderNumber string  `json:"order_number"`
	TotalAmount float64 `json:"total_amount"`
	ItemCount   int     `json:"item_count"`
}

// OrderStatusEvent announces an order status transition
type OrderStatusEvent struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

// PaymentCompletedEvent announces a settled payment
type PaymentCompletedEvent struct {
	OrderID     string  `json:"order_id"`
	OrderNumber string  `json:"order_number"`
	Method      string  `json:"method"`
	Amount      float64 `json:"amount"`
}

// StockAlertEvent warns staff that an item dropped to or below its threshold
type StockAlertEvent struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Severity  string `json:"severity"` // "high" when out, "medium" when low
}

// DisplayUpdateEvent tells customer displays to refresh their content loop
type DisplayUpdateEvent struct {
	Reason string `json:"reason"` // "ads_changed", "settings_changed"
}

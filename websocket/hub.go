package websocket

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"goodsale/metrics"
)

// Connection represents a WebSocket connection joined to a store room.
// Customer display connections carry a nil UserID.
type Connection struct {
	ID      string
	UserID  uuid.UUID
	StoreID uuid.UUID
	Role    string
	Conn    *websocket.Conn
	Send    chan []byte

	// closed is set under the hub lock whenever Send is closed, so
	// senders holding the lock can tell the channel is gone.
	closed bool
}

// RoomName builds the room key a connection belongs to
func RoomName(storeID uuid.UUID, role string) string {
	return fmt.Sprintf("store_%s_%s", storeID, role)
}

// Hub manages WebSocket connections and fan-out to store rooms
type Hub struct {
	connections map[string]*Connection
	rooms       map[string]map[string]*Connection // room -> connID -> connection
	register    chan *Connection
	unregister  chan *Connection
	mu          sync.RWMutex
	done        chan struct{}
}

// NewHub creates a new Hub instance for managing WebSocket connections
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}
}

// Close gracefully shuts down the hub and releases underlying resources.
func (h *Hub) Close() {
	h.mu.Lock()
	select {
	case <-h.done:
		// already closed
	default:
		close(h.done)
		close(h.register)
		close(h.unregister)
	}
	h.mu.Unlock()
}

// RegisterConnection schedules a connection to be added to the hub.
func (h *Hub) RegisterConnection(conn *Connection) {
	h.register <- conn
}

// UnregisterConnection schedules a connection to be removed from the hub.
func (h *Hub) UnregisterConnection(conn *Connection) {
	h.unregister <- conn
}

// Run starts the Hub's main event loop for managing connections
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case conn, ok := <-h.register:
			if !ok {
				return
			}
			h.mu.Lock()
			h.connections[conn.ID] = conn
			room := RoomName(conn.StoreID, conn.Role)
			if h.rooms[room] == nil {
				h.rooms[room] = make(map[string]*Connection)
			}
			h.rooms[room][conn.ID] = conn
			total := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(total)

		case conn, ok := <-h.unregister:
			if !ok {
				return
			}
			h.mu.Lock()
			if _, exists := h.connections[conn.ID]; exists {
				delete(h.connections, conn.ID)
				room := RoomName(conn.StoreID, conn.Role)
				if roomConns, exists := h.rooms[room]; exists {
					delete(roomConns, conn.ID)
					if len(roomConns) == 0 {
						delete(h.rooms, room)
					}
				}
				if !conn.closed {
					conn.closed = true
					close(conn.Send)
				}
			}
			total := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(total)
		}
	}
}

// BroadcastToStore sends an event to every listed role room of a store.
// Slow consumers are dropped rather than allowed to block the caller.
func (h *Hub) BroadcastToStore(storeID uuid.UUID, roles []string, msg WSMessage) {
	msg.StoreID = storeID.String()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, role := range roles {
		room := h.rooms[RoomName(storeID, role)]
		for connID, conn := range room {
			select {
			case conn.Send <- data:
			default:
				conn.closed = true
				close(conn.Send)
				delete(room, connID)
				delete(h.connections, connID)
			}
		}
	}
}

// TrySend delivers a message to one connection without blocking. It holds
// the hub read lock so the channel cannot be closed mid-send; messages to
// dropped or saturated connections are discarded.
func (h *Hub) TrySend(conn *Connection, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// NotifyOrderCreated pushes a new order to staff and kitchen rooms
func (h *Hub) NotifyOrderCreated(storeID uuid.UUID, event OrderCreatedEvent) {
	h.BroadcastToStore(storeID, []string{RoleStaff, RoleKitchen}, WSMessage{
		Type:    EventOrderCreated,
		Content: event,
	})
}

// NotifyOrderStatus pushes an order status change to every room of the store
func (h *Hub) NotifyOrderStatus(storeID uuid.UUID, event OrderStatusEvent) {
	h.BroadcastToStore(storeID, []string{RoleStaff, RoleKitchen, RoleCustomer}, WSMessage{
		Type:    EventOrderStatus,
		Content: event,
	})
}

// NotifyPaymentCompleted pushes a settled payment to staff and customer rooms
func (h *Hub) NotifyPaymentCompleted(storeID uuid.UUID, event PaymentCompletedEvent) {
	h.BroadcastToStore(storeID, []string{RoleStaff, RoleCustomer}, WSMessage{
		Type:    EventPaymentCompleted,
		Content: event,
	})
}

// NotifyStockAlert warns staff screens about a low or empty stock item
func (h *Hub) NotifyStockAlert(storeID uuid.UUID, event StockAlertEvent) {
	h.BroadcastToStore(storeID, []string{RoleStaff}, WSMessage{
		Type:    EventStockAlert,
		Content: event,
	})
}

// NotifyDisplayUpdate tells customer displays of a store to refresh
func (h *Hub) NotifyDisplayUpdate(storeID uuid.UUID, event DisplayUpdateEvent) {
	h.BroadcastToStore(storeID, []string{RoleCustomer}, WSMessage{
		Type:    EventDisplayUpdate,
		Content: event,
	})
}

// Stop gracefully shuts down the Hub
func (h *Hub) Stop() {
	close(h.done)
}

// RoomSize returns how many connections a store room currently holds
func (h *Hub) RoomSize(storeID uuid.UUID, role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomName(storeID, role)])
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

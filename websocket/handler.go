package websocket

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"goodsale/database"
	"goodsale/middleware"
)

// HandleWebSocket upgrades a client into a store room. Staff and kitchen
// connections must present a valid token and hold access to the store;
// customer display connections join read-only without authentication.
func HandleWebSocket(c *websocket.Conn, hub *Hub, db database.Database, jwtSecret []byte) {
	defer c.Close()

	storeIDStr := c.Query("store_id")
	role := c.Query("role")
	tokenStr := c.Query("token")

	storeID, err := uuid.Parse(storeIDStr)
	if err != nil {
		log.Printf("WebSocket connection rejected: invalid store id")
		return
	}

	switch role {
	case RoleStaff, RoleKitchen, RoleCustomer:
	default:
		log.Printf("WebSocket connection rejected: unknown role %q", role)
		return
	}

	userID := uuid.Nil
	if role != RoleCustomer {
		userID, err = authenticate(tokenStr, jwtSecret)
		if err != nil {
			log.Printf("WebSocket connection rejected: %v", err)
			return
		}
		if !middleware.UserCanAccessStore(context.Background(), db, userID, storeID) {
			log.Printf("User %s has no access to store %s", userID, storeID)
			return
		}
	}

	conn := &Connection{
		ID:      uuid.New().String(),
		UserID:  userID,
		StoreID: storeID,
		Role:    role,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	hub.register <- conn

	// Writer pump
	go func() {
		defer func() {
			hub.unregister <- conn
		}()

		for message := range conn.Send {
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		}
		c.WriteMessage(websocket.CloseMessage, []byte{})
	}()

	// Clients only receive events; the read loop exists to detect closure
	// and to answer keepalive pings.
	for {
		var msg WSMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		if msg.Type == "ping" {
			hub.TrySend(conn, []byte(`{"type":"pong"}`))
		}
	}
}

// authenticate validates the query-string token and returns the user ID
func authenticate(tokenStr string, jwtSecret []byte) (uuid.UUID, error) {
	if tokenStr == "" {
		return uuid.Nil, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing user_id claim")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token")
	}
	return userID, nil
}

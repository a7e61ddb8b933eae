package server

import (
	"context"
	"encoding/json"
	"log"

	"discuzz/internal/middleware"
	"discuzz/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// wsIncoming is the small command vocabulary clients may send upstream.
type wsIncoming struct {
	Type           string `json:"type"`
	NotificationID uint   `json:"notification_id,omitempty"`
}

// WebsocketHandler upgrades the connection and registers the client with the
// notification hub. Registration triggers a backlog replay; read
// acknowledgments arrive as {"type":"read","notification_id":N} frames.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		ctx := context.Background()

		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket: Failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var msg wsIncoming
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Printf("WebSocket: Invalid message format from user %d", userID)
				return
			}

			switch msg.Type {
			case "read":
				if msg.NotificationID == 0 {
					return
				}
				if err := s.dispatcher.MarkRead(ctx, msg.NotificationID, userID); err != nil {
					response, _ := json.Marshal(fiber.Map{
						"type":            "read_rejected",
						"notification_id": msg.NotificationID,
						"error":           err.Error(),
					})
					c.TrySend(response)
				}
			case "ping":
				c.TrySend([]byte(`{"type":"pong"}`))
			}
		}

		// Start write pump in a goroutine; read pump blocks here.
		go client.WritePump()
		client.ReadPump()
	})
}

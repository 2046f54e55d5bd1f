package handlers

import (
	"context"

	"linguachat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler runs the read loop for one connection.
func WebSocketHandler(g *Gateway) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		// Retrieve user info from locals (set by middleware)
		userID := c.Locals("user_id").(int)
		username := c.Locals("username").(string)

		connID := uuid.New().String()
		sess := g.hub.Register(connID, userID, username, c)
		defer func() {
			g.hub.Unregister(connID)
			c.Close()
		}()

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Str("conn_id", connID).Msg("websocket read")
				}
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}
			g.HandleFrame(context.Background(), sess, msg)
		}
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware verifies the bearer credential once at handshake. The
// token is looked up in the `auth` query field, then the `token` query
// param, then the Authorization header, in that order; failure
// disconnects immediately.
func AuthMiddleware(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("auth")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				token = authHeader[7:]
			}
		}

		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
		}

		claims, err := users.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}

		// claims["user_id"] comes as float64 from JSON
		if uid, ok := claims["user_id"].(float64); ok {
			c.Locals("user_id", int(uid))
		} else {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
		}

		if u, ok := claims["username"].(string); ok {
			c.Locals("username", u)
		}

		return c.Next()
	}
}

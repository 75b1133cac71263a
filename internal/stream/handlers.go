package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:routeID", websocket.New(func(c *websocket.Conn) {
		routeID := c.Params("routeID")
		client := hub.Register(routeID)
		defer hub.Unregister(client)

		// Replay the latest snapshot so a client joining mid-route starts
		// from current state instead of waiting for the next broadcast.
		if payload, ok := hub.LastPayload(routeID); ok {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		// The writer exits when Unregister closes the send channel or the
		// peer goes away.
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

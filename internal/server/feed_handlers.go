package server

import (
	"log/slog"

	"stableposts/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// PostFeedHandler handles GET /ws/posts. Every post event is pushed to the
// connection as a JSON text frame; inbound frames are ignored.
func (s *Server) PostFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		if s.hub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(conn)
		if err != nil {
			middleware.Logger.Warn("post feed rejected connection", slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		// The connection is released when this func returns, so wait for the
		// writer to finish its close frame first.
		done := make(chan struct{})
		go func() {
			defer close(done)
			client.WritePump()
		}()
		client.ReadPump()
		<-done
	})
}

package handlers

import (
	"io"
	"net/http"

	"reunite-go/internal/server/sse"

	"github.com/gin-gonic/gin"
)

// EventHandler liefert Zustandsänderungen als Server-Sent Events aus
type EventHandler struct {
	hub *sse.Hub
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// RegisterRoutes registriert den SSE-Endpunkt
func (h *EventHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/events", h.Stream)
}

// Stream hält die Verbindung offen, bis der Client trennt oder der Hub stoppt
func (h *EventHandler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// Header sofort senden, auch wenn noch kein Ereignis ansteht
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		}
	})
}

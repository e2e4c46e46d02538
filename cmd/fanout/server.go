package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards connect cross-origin; events are tenant-scoped by
	// the subscription path, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS upgrades GET /ws/{tenant} to a WebSocket subscription. Optional
// query parameters "workflow" and "run" narrow the stream.
func serveWS(hub *Hub, log Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimPrefix(r.URL.Path, "/ws/")
		if tenant == "" || strings.Contains(tenant, "/") {
			http.Error(w, "tenant is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := NewClient(hub, conn, tenant,
			r.URL.Query().Get("workflow"), r.URL.Query().Get("run"))
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

package dashboard

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/metrics"
)

const maxFrameBytes = 8 * 1024

// Handler upgrades dashboard connections and pumps their frames into
// the serialized pipeline. It never touches bridge state directly.
type Handler struct {
	hub      *Hub
	bus      *bus.Bus
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the /ws endpoint handler.
func NewHandler(hub *Hub, b *bus.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		bus: b,
		log: log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are local tools; origin checks stay open.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection, registers the session and runs
// its read loop until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	s := NewSession(conn, h.log)
	if err := h.hub.Register(s); err != nil {
		// At capacity: reject with a typed error and close right away
		// rather than silently dropping the connection.
		conn.WriteJSON(NewError(CodeServerFull, "maximum client connections reached"))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"))
		conn.Close()
		metrics.ClientsRejected.WithLabelValues("server_full").Inc()
		return
	}

	h.log.Info().Str("session", s.ID()).Str("remote", r.RemoteAddr).Msg("client connected")
	go s.run()
	h.bus.PublishSession(bus.Session{Kind: bus.SessionAttached, SessionID: s.ID()})

	conn.SetReadLimit(maxFrameBytes)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.bus.PublishCommand(bus.Command{SessionID: s.ID(), Raw: payload})
	}

	// Synchronous removal: the slot is free before the handler returns.
	h.hub.Unregister(s.ID())
	s.Close()
	h.bus.PublishSession(bus.Session{Kind: bus.SessionDetached, SessionID: s.ID()})
	h.log.Info().Str("session", s.ID()).Msg("client disconnected")
}

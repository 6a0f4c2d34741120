package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webssh/gateway/internal/bridge"
	"github.com/webssh/gateway/internal/sshsession"
)

// wsTransport adapts a gorilla/websocket connection to bridge.Transport.
// gorilla/websocket connections support at most one concurrent writer, so
// every send is serialized here.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte, binary bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	kind := websocket.TextMessage
	if binary {
		kind = websocket.BinaryMessage
	}
	return t.conn.WriteMessage(kind, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	info, ok := g.registry.GetSession(id)
	if !ok {
		g.log.Debug().Err(sshsession.NewRegistryError("gateway.handleWebSocket", id)).Msg("websocket upgrade requested for unregistered session")
		writeJSON(w, http.StatusNotFound, NotFoundResponse{
			Error:             "session_not_found",
			Message:           "no session with this id is registered",
			SessionID:         id,
			AvailableSessions: g.registry.TotalSessions(),
		})
		return
	}

	primary, ok := info.Session.(*sshsession.Session)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, NotFoundResponse{
			Error:     "session_not_found",
			Message:   "session handle is not an SSH session",
			SessionID: id,
		})
		return
	}

	clone, err := primary.Clone()
	if err != nil {
		g.log.Error().Err(err).Str("session_id", id).Msg("failed to clone session for bridge")
		http.Error(w, "failed to attach to session", http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		clone.Close()
		g.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	transport := &wsTransport{conn: conn}
	br := bridge.New(clone, transport, g.sshSettings.KeepaliveInterval, g.log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		if err := br.Run(ctx); err != nil {
			g.log.Debug().Err(err).Str("session_id", id).Msg("bridge run ended")
		}
		// Closing the connection unblocks receiveLoop's pending ReadMessage.
		conn.Close()
	}()

	g.receiveLoop(ctx, conn, br)

	cancel()
	clone.Close()
	conn.Close()
	if removed, err := g.registry.Remove(id); err != nil {
		g.log.Warn().Err(err).Str("session_id", id).Msg("error closing SSH handle on bridge exit")
	} else {
		g.log.Debug().Bool("removed", removed).Str("session_id", id).Msg("session removed after bridge exit")
	}
}

// receiveLoop is the input receiver task: it reads client frames off the
// websocket and dispatches them to the bridge until the client disconnects
// or the bridge itself ends.
func (g *Gateway) receiveLoop(ctx context.Context, conn *websocket.Conn, br *bridge.Bridge) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.TextMessage:
			br.HandleClientMessage(data, false)
		case websocket.BinaryMessage:
			br.HandleClientMessage(data, true)
		case websocket.CloseMessage:
			return
		}
	}
}

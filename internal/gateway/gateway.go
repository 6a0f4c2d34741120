package gateway

import (
	"io/fs"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshsession"
)

// Gateway wires the registry and SSH bootstrap settings to the HTTP
// surface described in the external interfaces section: connect, session
// management, and the upgrade endpoint.
type Gateway struct {
	registry    *registry.Registry
	sshSettings sshsession.Settings
	publicAddr  string // host:port advertised in websocket_url
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// New constructs a Gateway. publicAddr is the host:port clients should
// reach the gateway at for the websocket upgrade (normally the server's
// configured listen address).
func New(reg *registry.Registry, settings sshsession.Settings, publicAddr string, log zerolog.Logger) *Gateway {
	return &Gateway{
		registry:    reg,
		sshSettings: settings,
		publicAddr:  publicAddr,
		log:         log,
		upgrader: websocket.Upgrader{
			// The static web UI and the portal it's embedded in are
			// deliberately unconstrained by origin; per-session identity
			// tagging, not CORS, is this system's access boundary (see
			// design notes on scope).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Mux builds the route table described in the external interfaces section.
func (g *Gateway) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", g.handleIndex)
	staticSub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err) // the embedded directory always exists
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))
	mux.HandleFunc("POST /connect", g.handleConnect)
	mux.HandleFunc("POST /api/connect", g.handleConnectAPI)
	mux.HandleFunc("POST /api/sessions", g.handleSessions)
	mux.HandleFunc("GET /api/session/{id}/status", g.handleSessionStatus)
	mux.HandleFunc("POST /api/session/{id}/terminate", g.handleSessionTerminate)
	mux.HandleFunc("GET /ws/{id}", g.handleWebSocket)
	return mux
}

// WithCORS wraps a handler with the permissive CORS policy matching the
// upgrade endpoint's permissive CheckOrigin.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package bridge

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/phrazzld/clinicdesk/internal/events"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/redact"
)

// maxClientMessage bounds what a client may send; the stream is one way.
const maxClientMessage = 1024

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

type handler struct {
	broadcaster *Broadcaster
	bus         *events.Bus
	upgrader    websocket.Upgrader
}

// NewRouter serves the websocket stream on GET /ws, liveness on GET /healthz
// and the channel table on GET /channels.
func NewRouter(b *Broadcaster, bus *events.Bus, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{
		broadcaster: b,
		bus:         bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(b.cfg.AllowedOrigins),
		},
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(traceMiddleware(log.With("component", "bridge")))

	r.Get("/ws", h.serveWS)
	r.Get("/healthz", h.health)
	r.Get("/channels", h.channels)

	return r
}

// originChecker accepts same-origin requests, requests without an Origin
// header and the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := origins[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if !h.upgrader.CheckOrigin(r) {
		log.Warn("rejected websocket origin", "origin", r.Header.Get("Origin"))
		respondWithError(w, r, http.StatusForbidden, "origin not allowed")
		return
	}

	if h.broadcaster.Full() {
		respondWithError(w, r, http.StatusServiceUnavailable, ErrTooManyConnections.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		log.Debug("websocket upgrade failed", "error", redact.Error(err))
		return
	}

	c, err := h.broadcaster.AddClient(conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
		_ = conn.Close()
		return
	}
	log.Info("websocket client connected", "remote_addr", r.RemoteAddr)

	// Reads only detect the peer going away.
	go func() {
		defer func() {
			h.broadcaster.RemoveClient(c)
			log.Info("websocket client disconnected", "remote_addr", r.RemoteAddr)
		}()
		conn.SetReadLimit(maxClientMessage)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "ok",
		Clients: h.broadcaster.ClientCount(),
	})
}

func (h *handler) channels(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, h.bus.Describe())
}

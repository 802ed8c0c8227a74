package bridge

import (
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

//go:embed static/bridge.html
var dashboardHTML []byte

const (
	// framedSocketIdleTimeout bounds how long a framed-socket peer may
	// stay silent (no inbound frame, no pong) before it's considered
	// dead and the connection is torn down.
	framedSocketIdleTimeout = 90 * time.Second
	// framedSocketPingInterval is how often a ping control frame is sent
	// to keep idle connections (and any intermediating proxy) alive.
	framedSocketPingInterval = 30 * time.Second
)

// AgentCard describes the bridge's metadata descriptor, served at
// /.well-known/agent-card.json with bit-exact field names.
type AgentCard struct {
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	URL                string             `json:"url"`
	Version            string             `json:"version"`
	ProtocolVersion    string             `json:"protocolVersion"`
	Capabilities       AgentCapabilities  `json:"capabilities"`
	DefaultInputModes  []string           `json:"defaultInputModes"`
	DefaultOutputModes []string           `json:"defaultOutputModes"`
	Skills             []AgentSkill       `json:"skills"`
}

// AgentCapabilities describes protocol capabilities and extensions.
type AgentCapabilities struct {
	Streaming  bool             `json:"streaming"`
	Extensions []AgentExtension `json:"extensions"`
}

// AgentExtension describes one protocol extension.
type AgentExtension struct {
	URI         string `json:"uri"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// AgentSkill describes one capability exposed through the session.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the bridge's HTTP surface: the metadata descriptor, the
// task/message endpoints, the SSE stream, and the framed-socket
// upgrade. It depends only on a Registry, a Broadcaster, an
// InputRouter, and the Host's session id — never on the host's
// internal packages directly.
type Server struct {
	registry    *Registry
	router      *InputRouter
	sessionID   string
	card        AgentCard
	logger      *slog.Logger
}

// NewServer builds the HTTP surface. The card is served as given apart
// from protocolVersion, which is always set to "0.3.0"; card.URL is not
// filled in.
func NewServer(registry *Registry, router *InputRouter, sessionID string, card AgentCard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	card.ProtocolVersion = "0.3.0"
	return &Server{registry: registry, router: router, sessionID: sessionID, card: card, logger: logger}
}

// Mux builds the *http.ServeMux the Lifecycle Controller wraps in an
// *http.Server. Each route alias (§6.2) is registered on its own and
// points at the same handler as its canonical route.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/agent-card.json", s.handleAgentCard)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)

	mux.HandleFunc("POST /tasks/{taskId}/messages/stream", s.handleTaskMessageStream)
	mux.HandleFunc("POST /tasks/{taskId}/messages", s.handleTaskMessageStream)
	mux.HandleFunc("POST /v1/tasks/{taskId}/messages", s.handleTaskMessageStream)

	mux.HandleFunc("POST /", s.handleMessageStreamNoTask)
	mux.HandleFunc("POST /v1/message:stream", s.handleMessageStreamNoTask)

	mux.HandleFunc("GET /ws", s.handleWebSocketUpgrade)

	mux.HandleFunc("GET /bridge", s.handleDashboard)
	mux.HandleFunc("GET /bridge/events", s.streamSSE)

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

// handleDashboard serves the embedded read-only dashboard page: a
// single static HTML file that opens an EventSource against
// /bridge/events to render the live feed, styled after web.Handler's
// embed.FS pattern but with nothing to route (single file, no assets).
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(dashboardHTML)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, s.card)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]string{"id": s.sessionID})
}

// handleTaskMessageStream validates the path's taskId against the
// process-wide session id, then behaves exactly like
// handleMessageStreamNoTask.
func (s *Server) handleTaskMessageStream(w http.ResponseWriter, r *http.Request) {
	if taskID := r.PathValue("taskId"); taskID != s.sessionID {
		s.errorResponse(w, http.StatusNotFound, "Not Found")
		return
	}
	s.streamSSE(w, r)
}

func (s *Server) handleMessageStreamNoTask(w http.ResponseWriter, r *http.Request) {
	s.streamSSE(w, r)
}

// streamSSE routes the request body as one inbound peer message, then
// opens an SSE connection and registers an SSE peer that stays open
// until the client disconnects.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if len(body) > 0 {
		msg, err := DecodePeerMessage(body)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		s.router.Route(msg)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	peer := s.registry.Register(TransportSSE)
	defer s.registry.Unregister(peer)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frame, ok := <-peer.Outbound():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				s.logger.Debug("sse write failed, unregistering peer", "error", err, "peer_id", peer.ID)
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleWebSocketUpgrade upgrades the connection to the framed-socket
// transport and registers a peer. Inbound frames are read in a loop and
// routed; outbound frames are written by a dedicated goroutine draining
// the peer's queue, following the single-writer-per-connection pattern.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	peer := s.registry.Register(TransportFramedSocket)
	defer s.registry.Unregister(peer)

	_ = conn.SetReadDeadline(time.Now().Add(framedSocketIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(framedSocketIdleTimeout))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range peer.Outbound() {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("framed-socket write failed", "error", err, "peer_id", peer.ID)
				return
			}
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		ticker := time.NewTicker(framedSocketPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(framedSocketIdleTimeout))
		msg, err := DecodePeerMessage(data)
		if err != nil {
			s.logger.Debug("malformed framed-socket frame dropped", "error", err, "peer_id", peer.ID)
			continue
		}
		s.router.Route(msg)
	}

	_ = conn.Close()
	<-done
	<-pingDone
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.errorResponse(w, http.StatusNotFound, "Not Found")
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	s.writeJSON(w, map[string]string{"error": message})
}

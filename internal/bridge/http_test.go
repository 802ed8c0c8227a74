package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer() *Server {
	registry := NewRegistry(4, discardLogger())
	host := &fakeHost{}
	arbiter := NewArbiter(&fakeBus{}, discardLogger())
	router := NewInputRouter(host, arbiter, discardLogger())
	card := AgentCard{
		Name:               "thane-session-bridge",
		Capabilities:       AgentCapabilities{Streaming: true, Extensions: []AgentExtension{{URI: "urn:thane:bridge:confirmation", Required: true}}},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
	return NewServer(registry, router, "session-abc", card, discardLogger())
}

func TestHandleAgentCard_ProtocolVersionAndExtension(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("GET", "/.well-known/agent-card.json", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var card AgentCard
	if err := json.NewDecoder(w.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.ProtocolVersion != "0.3.0" {
		t.Errorf("protocolVersion = %q, want 0.3.0", card.ProtocolVersion)
	}
	if len(card.Capabilities.Extensions) != 1 || !card.Capabilities.Extensions[0].Required {
		t.Errorf("expected exactly one required extension, got %+v", card.Capabilities.Extensions)
	}
}

func TestHandleCreateTask_ReturnsSessionID(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("POST", "/tasks", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "session-abc" {
		t.Errorf("id = %q, want session-abc", body["id"])
	}
}

func TestHandleTaskMessageStream_WrongTaskIDIs404(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("POST", "/tasks/not-the-session/messages", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStreamSSE_MalformedBodyIs400(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("POST", "/v1/message:stream", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Invalid JSON payload" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestHandleDashboard_ServesEmbeddedHTML(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("GET", "/bridge", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content-type = %q", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("session bridge")) {
		t.Errorf("expected dashboard markup in body, got %s", w.Body.String())
	}
}

func TestHandleNotFound(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStreamSSE_DeliversBroadcastFrames(t *testing.T) {
	registry := NewRegistry(4, discardLogger())
	host := &fakeHost{}
	arbiter := NewArbiter(&fakeBus{}, discardLogger())
	router := NewInputRouter(host, arbiter, discardLogger())
	s := NewServer(registry, router, "session-abc", AgentCard{}, discardLogger())
	broadcaster := NewBroadcaster(registry, "session-abc", discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r := httptest.NewRequest("POST", "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	go func() {
		time.Sleep(50 * time.Millisecond)
		broadcaster.Broadcast(Event{Kind: KindTextContent, Text: "hi"})
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"text":"hi"`)) {
		t.Errorf("expected broadcast event in SSE body, got %s", w.Body.String())
	}
}

// Package agentbridge adapts the agent loop to the session bridge's
// Host contract. It is the only package that imports both
// internal/bridge and internal/agent — the bridge core itself depends
// on nothing from this package.
package agentbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nugget/thane-session-bridge/internal/agent"
	"github.com/nugget/thane-session-bridge/internal/bridge"
	"github.com/nugget/thane-session-bridge/internal/config"
)

// confirmationGatedTools lists the tool names whose execution blocks on
// peer/terminal approval before running.
var confirmationGatedTools = map[string]bool{
	"exec":       true,
	"file_write": true,
	"file_edit":  true,
}

// Adapter implements bridge.Host and agent.ConfirmGate on top of an
// agent.Loop, translating between the host agent's internal shapes and
// the bridge's canonical ones.
type Adapter struct {
	loop      *agent.Loop
	sessionID string
	port      int
	logger    *slog.Logger

	mu          sync.Mutex
	subscribers map[chan bridge.HostEvent]struct{}

	confirmMu sync.Mutex
	confirms  map[string]chan bool // toolCallID -> response channel

	confirmReqMu   sync.Mutex
	confirmReqSubs map[chan bridge.HostConfirmationRequest]struct{}

	toolUpdateMu   sync.Mutex
	toolUpdateSubs map[chan []bridge.ToolCallUpdate]struct{}

	injectFn func(text string) error
}

// New builds an Adapter around an existing agent.Loop. injectFn
// delivers peer-originated text to the conversation exactly as
// terminal input would be delivered; the caller supplies it because
// how "terminal input" reaches the loop is host-specific (a channel
// read, a queue push, etc.).
func New(loop *agent.Loop, cfg *config.Config, logger *slog.Logger, injectFn func(text string) error) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		loop:           loop,
		sessionID:      uuid.NewString(),
		port:           cfg.Bridge.Port,
		logger:         logger,
		subscribers:    make(map[chan bridge.HostEvent]struct{}),
		confirms:       make(map[string]chan bool),
		confirmReqSubs: make(map[chan bridge.HostConfirmationRequest]struct{}),
		toolUpdateSubs: make(map[chan []bridge.ToolCallUpdate]struct{}),
		injectFn:       injectFn,
	}
	loop.SetConfirmGate(a)
	return a
}

// SessionID implements bridge.Host.
func (a *Adapter) SessionID() string { return a.sessionID }

// Port implements bridge.Host.
func (a *Adapter) Port() int { return a.port }

// Inject implements bridge.Host.
func (a *Adapter) Inject(text string) error { return a.injectFn(text) }

// Bus implements bridge.Host.
func (a *Adapter) Bus() bridge.MessageBus { return a }

// hostEvents is the bridge.HostEvents handle returned by Subscribe.
type hostEvents struct {
	ch     chan bridge.HostEvent
	a      *Adapter
	closed bool
	mu     sync.Mutex
}

func (h *hostEvents) Events() <-chan bridge.HostEvent { return h.ch }

func (h *hostEvents) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.a.mu.Lock()
	delete(h.a.subscribers, h.ch)
	h.a.mu.Unlock()
	close(h.ch)
}

// Subscribe implements bridge.Host. Each call gets its own buffered
// channel fed by every StreamCallback invocation from every running
// Loop.Run call; the bridge only ever needs one live subscription, but
// the method tolerates more.
func (a *Adapter) Subscribe(ctx context.Context) bridge.HostEvents {
	ch := make(chan bridge.HostEvent, 256)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()
	return &hostEvents{ch: ch, a: a}
}

func (a *Adapter) publish(evt bridge.HostEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- evt:
		default:
			a.logger.Warn("host event channel full, dropping event", "kind", evt.Kind)
		}
	}
}

// StreamCallback returns the agent.StreamCallback to pass into
// Loop.Run. Every token becomes a Content event; tool-call boundaries
// become ToolCallRequest / a TOOL_CALLS_UPDATE-shaped batch.
func (a *Adapter) StreamCallback() agent.StreamCallback {
	return func(event agent.StreamEvent) {
		switch event.Kind {
		case agent.KindToken:
			a.publish(bridge.HostEvent{Kind: bridge.HostContent, Chunk: event.Token})

		case agent.KindToolCallStart:
			if event.ToolCall == nil {
				return
			}
			a.publish(bridge.HostEvent{
				Kind:            bridge.HostToolCallRequest,
				ToolCallID:      event.ToolCall.ID,
				ToolName:        event.ToolCall.Function.Name,
				InputParameters: event.ToolCall.Function.Arguments,
			})
			a.publishToolUpdate([]bridge.ToolCallUpdate{{
				ToolCallID: event.ToolCall.ID,
				ToolName:   event.ToolCall.Function.Name,
				Status:     "Executing",
			}})

		case agent.KindToolCallDone:
			status := "Success"
			if event.ToolError != "" {
				status = "Error"
			}
			a.publishToolUpdate([]bridge.ToolCallUpdate{{
				ToolName:   event.ToolName,
				Status:     status,
				ResultText: event.ToolResult,
				ErrorText:  event.ToolError,
			}})
		}
	}
}

func (a *Adapter) publishToolUpdate(batch []bridge.ToolCallUpdate) {
	a.toolUpdateMu.Lock()
	defer a.toolUpdateMu.Unlock()
	for ch := range a.toolUpdateSubs {
		select {
		case ch <- batch:
		default:
			a.logger.Warn("tool call update channel full, dropping batch")
		}
	}
}

// SubscribeToolCallsUpdate implements bridge.MessageBus.
func (a *Adapter) SubscribeToolCallsUpdate(ctx context.Context) <-chan []bridge.ToolCallUpdate {
	ch := make(chan []bridge.ToolCallUpdate, 64)
	a.toolUpdateMu.Lock()
	a.toolUpdateSubs[ch] = struct{}{}
	a.toolUpdateMu.Unlock()

	go func() {
		<-ctx.Done()
		a.toolUpdateMu.Lock()
		delete(a.toolUpdateSubs, ch)
		a.toolUpdateMu.Unlock()
		close(ch)
	}()
	return ch
}

// SubscribeConfirmationRequests implements bridge.MessageBus.
func (a *Adapter) SubscribeConfirmationRequests(ctx context.Context) <-chan bridge.HostConfirmationRequest {
	ch := make(chan bridge.HostConfirmationRequest, 16)
	a.confirmReqMu.Lock()
	a.confirmReqSubs[ch] = struct{}{}
	a.confirmReqMu.Unlock()

	go func() {
		<-ctx.Done()
		a.confirmReqMu.Lock()
		delete(a.confirmReqSubs, ch)
		a.confirmReqMu.Unlock()
		close(ch)
	}()
	return ch
}

// PublishConfirmationResponse implements bridge.MessageBus. It resolves
// the blocked Confirm call waiting on this correlation id, if any.
func (a *Adapter) PublishConfirmationResponse(resp bridge.ConfirmationResponse) error {
	a.confirmMu.Lock()
	ch, ok := a.confirms[resp.CorrelationID]
	if ok {
		delete(a.confirms, resp.CorrelationID)
	}
	a.confirmMu.Unlock()

	if !ok {
		return fmt.Errorf("no pending confirmation for correlation id %q", resp.CorrelationID)
	}
	ch <- resp.Confirmed
	return nil
}

// RequiresConfirmation implements agent.ConfirmGate.
func (a *Adapter) RequiresConfirmation(toolName string) bool {
	return confirmationGatedTools[toolName]
}

// Confirm implements agent.ConfirmGate. It publishes a confirmation
// request to every subscriber and blocks until PublishConfirmationResponse
// resolves it or ctx is cancelled.
func (a *Adapter) Confirm(ctx context.Context, toolCallID, toolName string, args map[string]any) (bool, error) {
	respCh := make(chan bool, 1)
	a.confirmMu.Lock()
	a.confirms[toolCallID] = respCh
	a.confirmMu.Unlock()

	req := bridge.HostConfirmationRequest{
		CorrelationID: toolCallID,
		ToolCallID:    toolCallID,
		ToolName:      toolName,
	}
	switch toolName {
	case "exec":
		req.DetailKind = bridge.DetailExec
		if cmd, ok := args["command"].(string); ok {
			req.Command = cmd
		}
	case "file_write", "file_edit":
		req.DetailKind = bridge.DetailEdit
		if p, ok := args["path"].(string); ok {
			req.FilePath = p
			req.FileName = p
		}
		if c, ok := args["content"].(string); ok {
			req.NewContent = c
		}
	default:
		req.DetailKind = bridge.DetailGeneric
		req.Title = toolName
	}

	a.confirmReqMu.Lock()
	for ch := range a.confirmReqSubs {
		select {
		case ch <- req:
		default:
			a.logger.Warn("confirmation request channel full, dropping request", "tool_call_id", toolCallID)
		}
	}
	a.confirmReqMu.Unlock()

	select {
	case confirmed := <-respCh:
		return confirmed, nil
	case <-ctx.Done():
		a.confirmMu.Lock()
		delete(a.confirms, toolCallID)
		a.confirmMu.Unlock()
		return false, ctx.Err()
	}
}

package agentbridge

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nugget/thane-session-bridge/internal/agent"
	"github.com/nugget/thane-session-bridge/internal/bridge"
	"github.com/nugget/thane-session-bridge/internal/config"
	"github.com/nugget/thane-session-bridge/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T, injectFn func(string) error) *Adapter {
	t.Helper()
	loop := agent.NewLoop(discardLogger(), nil, nil, nil, nil, "test-model", "", "", 0)
	if injectFn == nil {
		injectFn = func(string) error { return nil }
	}
	return New(loop, &config.Config{Bridge: config.BridgeConfig{Port: 7777}}, discardLogger(), injectFn)
}

func TestAdapter_SessionIDAndPort(t *testing.T) {
	a := newTestAdapter(t, nil)
	if a.SessionID() == "" {
		t.Error("expected a non-empty session id")
	}
	if a.Port() != 7777 {
		t.Errorf("port = %d, want 7777", a.Port())
	}
}

func TestAdapter_InjectDelegatesToInjectFn(t *testing.T) {
	var got string
	a := newTestAdapter(t, func(text string) error {
		got = text
		return nil
	})
	if err := a.Inject("hello there"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if got != "hello there" {
		t.Errorf("injectFn received %q", got)
	}
}

func TestAdapter_StreamCallbackPublishesContentEvent(t *testing.T) {
	a := newTestAdapter(t, nil)
	events := a.Subscribe(context.Background())
	defer events.Close()

	cb := a.StreamCallback()
	cb(agent.StreamEvent{Kind: agent.KindToken, Token: "hi"})

	select {
	case evt := <-events.Events():
		if evt.Kind != bridge.HostContent || evt.Chunk != "hi" {
			t.Errorf("got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for content event")
	}
}

func TestAdapter_StreamCallbackPublishesToolCallRequestAndUpdate(t *testing.T) {
	a := newTestAdapter(t, nil)
	events := a.Subscribe(context.Background())
	defer events.Close()

	updates := a.SubscribeToolCallsUpdate(context.Background())

	cb := a.StreamCallback()
	tc := &llm.ToolCall{ID: "tc-1"}
	tc.Function.Name = "exec"
	tc.Function.Arguments = map[string]any{"command": "ls"}
	cb(agent.StreamEvent{Kind: agent.KindToolCallStart, ToolCall: tc})

	select {
	case evt := <-events.Events():
		if evt.Kind != bridge.HostToolCallRequest || evt.ToolCallID != "tc-1" || evt.ToolName != "exec" {
			t.Errorf("got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tool call request event")
	}

	select {
	case batch := <-updates:
		if len(batch) != 1 || batch[0].Status != "Executing" {
			t.Errorf("got %+v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tool update batch")
	}
}

func TestAdapter_RequiresConfirmation(t *testing.T) {
	a := newTestAdapter(t, nil)
	if !a.RequiresConfirmation("exec") {
		t.Error("expected exec to require confirmation")
	}
	if a.RequiresConfirmation("read_file") {
		t.Error("expected read_file not to require confirmation")
	}
}

func TestAdapter_ConfirmRoundTrip(t *testing.T) {
	a := newTestAdapter(t, nil)
	reqs := a.SubscribeConfirmationRequests(context.Background())

	done := make(chan struct{})
	var confirmed bool
	var confirmErr error
	go func() {
		confirmed, confirmErr = a.Confirm(context.Background(), "tc-1", "exec", map[string]any{"command": "ls"})
		close(done)
	}()

	select {
	case req := <-reqs:
		if req.ToolCallID != "tc-1" || req.DetailKind != bridge.DetailExec || req.Command != "ls" {
			t.Fatalf("got %+v", req)
		}
		if err := a.PublishConfirmationResponse(bridge.ConfirmationResponse{CorrelationID: "tc-1", Confirmed: true}); err != nil {
			t.Fatalf("publish response: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for confirmation request")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Confirm to return")
	}
	if confirmErr != nil {
		t.Fatalf("Confirm error: %v", confirmErr)
	}
	if !confirmed {
		t.Error("expected confirmed == true")
	}
}

func TestAdapter_ConfirmCancelledByContext(t *testing.T) {
	a := newTestAdapter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	confirmed, err := a.Confirm(ctx, "tc-2", "exec", nil)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
	if confirmed {
		t.Error("expected confirmed == false on cancellation")
	}
}

func TestAdapter_PublishConfirmationResponseWithoutPendingErrors(t *testing.T) {
	a := newTestAdapter(t, nil)
	if err := a.PublishConfirmationResponse(bridge.ConfirmationResponse{CorrelationID: "never-asked"}); err == nil {
		t.Fatal("expected an error for an unknown correlation id")
	}
}

package bridge

import (
	"context"
	"testing"
	"time"
)

// drivenHost lets a test push HostEvents and control Bus() channels directly.
type drivenHost struct {
	events chan HostEvent
	bus    *drivenBus
}

func (d *drivenHost) Subscribe(ctx context.Context) HostEvents {
	return &fakeHostEvents{ch: d.events}
}
func (d *drivenHost) Bus() MessageBus        { return d.bus }
func (d *drivenHost) Inject(text string) error { return nil }
func (d *drivenHost) SessionID() string      { return "session-xyz" }
func (d *drivenHost) Port() int              { return 0 }

type drivenBus struct {
	confirmations chan HostConfirmationRequest
	updates       chan []ToolCallUpdate
	published     []ConfirmationResponse
}

func (d *drivenBus) SubscribeConfirmationRequests(ctx context.Context) <-chan HostConfirmationRequest {
	return d.confirmations
}
func (d *drivenBus) SubscribeToolCallsUpdate(ctx context.Context) <-chan []ToolCallUpdate {
	return d.updates
}
func (d *drivenBus) PublishConfirmationResponse(resp ConfirmationResponse) error {
	d.published = append(d.published, resp)
	return nil
}

func newDrivenHost() *drivenHost {
	return &drivenHost{
		events: make(chan HostEvent, 16),
		bus: &drivenBus{
			confirmations: make(chan HostConfirmationRequest, 16),
			updates:       make(chan []ToolCallUpdate, 16),
		},
	}
}

func TestEventBusAdapter_ThoughtMapsToCanonicalKind(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	peer := registry.Register(TransportSSE)
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adapter.Run(ctx)

	host.events <- HostEvent{Kind: HostThought, Subject: "s", Description: "d"}

	select {
	case frame := <-peer.Outbound():
		if len(frame) == 0 {
			t.Fatal("empty frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}
}

func TestEventBusAdapter_ConfirmationRequestTracksAndBroadcasts(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	peer := registry.Register(TransportSSE)
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adapter.Run(ctx)

	host.bus.confirmations <- HostConfirmationRequest{
		CorrelationID: "tc-9",
		ToolCallID:    "tc-9",
		ToolName:      "exec",
		DetailKind:    DetailExec,
		Command:       "ls -la",
	}

	select {
	case <-peer.Outbound():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmation broadcast")
	}

	if resolved := arbiter.Resolve("tc-9", "proceed_once"); !resolved {
		t.Fatal("expected the tracked correlation id to resolve")
	}
}

func TestEventBusAdapter_RunReturnsNilOnCleanShutdown(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- adapter.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil on clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestEventBusAdapter_RunReturnsSentinelOnUnexpectedClose(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- adapter.Run(context.Background()) }()
	close(host.events)

	select {
	case err := <-errCh:
		if err != errHostStreamClosed {
			t.Errorf("expected errHostStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRunAdapterWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())
	close(host.events) // every Run call observes the stream as already closed

	start := time.Now()
	err := runAdapterWithRetry(context.Background(), adapter, discardLogger())
	if err != errHostStreamClosed {
		t.Fatalf("expected errHostStreamClosed after exhausting retries, got %v", err)
	}
	if time.Since(start) < time.Second {
		t.Error("expected backoff delay between resubscribe attempts")
	}
}

func TestRunAdapterWithRetry_CleanShutdownDuringBackoffReturnsNil(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())
	close(host.events)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runAdapterWithRetry(ctx, adapter, discardLogger()) }()

	time.Sleep(50 * time.Millisecond) // let the first attempt observe the closed channel and enter backoff
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil when ctx cancelled during backoff, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runAdapterWithRetry to return")
	}
}

func TestEventBusAdapter_ToolUpdateMapsSuccessAndFailure(t *testing.T) {
	host := newDrivenHost()
	registry := NewRegistry(4, discardLogger())
	peer := registry.Register(TransportSSE)
	broadcaster := NewBroadcaster(registry, host.SessionID(), discardLogger())
	arbiter := NewArbiter(host.bus, discardLogger())
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adapter.Run(ctx)

	host.bus.updates <- []ToolCallUpdate{
		{ToolCallID: "a", Status: "Success", ResultText: "ok"},
		{ToolCallID: "b", Status: "Error", ErrorText: "bad"},
	}

	for i := 0; i < 2; i++ {
		select {
		case <-peer.Outbound():
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tool update broadcast")
		}
	}
}

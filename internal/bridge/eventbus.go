package bridge

import (
	"context"
	"errors"
	"log/slog"
)

// errHostStreamClosed signals that the host's event channel closed
// before ctx was cancelled — an unexpected drop the Lifecycle
// Controller may choose to retry, as opposed to a clean shutdown.
var errHostStreamClosed = errors.New("bridge: host event stream closed unexpectedly")

// EventBusAdapter subscribes to the host's event streams and the host's
// message bus, and normalizes every item into a canonical Event handed
// to the Broadcaster. It depends only on the Host interface.
type EventBusAdapter struct {
	host         Host
	broadcaster  *Broadcaster
	arbiter      *Arbiter
	logger       *slog.Logger
}

// NewEventBusAdapter wires a Host, a Broadcaster, and an Arbiter
// together. The Arbiter is populated here whenever a confirmation
// request is observed, so the Input Router and the adapter agree on
// outstanding correlation ids.
func NewEventBusAdapter(host Host, broadcaster *Broadcaster, arbiter *Arbiter, logger *slog.Logger) *EventBusAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBusAdapter{host: host, broadcaster: broadcaster, arbiter: arbiter, logger: logger}
}

// Run subscribes to the host's event stream and message bus and blocks,
// translating and broadcasting events, until ctx is cancelled (returns
// nil) or the host's event channel closes unexpectedly (returns
// errHostStreamClosed, leaving resubscription to the caller). It must
// not block the host's own delivery goroutine: every send to the
// Broadcaster is synchronous but non-blocking at the peer level (the
// Broadcaster never waits on a peer).
func (a *EventBusAdapter) Run(ctx context.Context) error {
	events := a.host.Subscribe(ctx)
	defer events.Close()

	bus := a.host.Bus()
	confirmations := bus.SubscribeConfirmationRequests(ctx)
	toolUpdates := bus.SubscribeToolCallsUpdate(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-events.Events():
			if !ok {
				a.logger.Warn("host event stream closed unexpectedly")
				return errHostStreamClosed
			}
			a.handleHostEvent(evt)

		case req, ok := <-confirmations:
			if !ok {
				confirmations = nil
				continue
			}
			a.handleConfirmationRequest(req)

		case batch, ok := <-toolUpdates:
			if !ok {
				toolUpdates = nil
				continue
			}
			a.handleToolCallsUpdate(batch)
		}
	}
}

func (a *EventBusAdapter) handleHostEvent(evt HostEvent) {
	switch evt.Kind {
	case HostThought:
		a.broadcaster.Broadcast(Event{
			Kind:        KindThought,
			Subject:     evt.Subject,
			Description: evt.Description,
		})

	case HostContent:
		a.broadcaster.Broadcast(Event{
			Kind:     KindTextContent,
			Text:     evt.Chunk,
			IsStderr: evt.IsStderr,
		})

	case HostOutput:
		a.broadcaster.Broadcast(Event{
			Kind:     KindTextContent,
			Text:     evt.Chunk,
			IsStderr: evt.IsStderr,
		})

	case HostToolCallRequest:
		a.broadcaster.Broadcast(Event{
			Kind:            KindToolCallUpdate,
			ToolCallID:      evt.ToolCallID,
			ToolName:        evt.ToolName,
			Status:          StatusPending,
			InputParameters: evt.InputParameters,
		})

	case HostConsoleLog:
		a.broadcaster.Broadcast(Event{
			Kind:       KindConsoleLog,
			LogType:    ConsoleLogLevel(evt.LogLevel),
			LogContent: evt.LogMessage,
		})

	case HostHookStart:
		a.broadcaster.Broadcast(Event{Kind: KindHook, HookName: evt.HookName, Phase: HookStart})

	case HostHookEnd:
		a.broadcaster.Broadcast(Event{Kind: KindHook, HookName: evt.HookName, Phase: HookEnd, Success: evt.Success})

	default:
		a.logger.Debug("unrecognized host event kind, dropped", "kind", evt.Kind)
	}
}

func (a *EventBusAdapter) handleConfirmationRequest(req HostConfirmationRequest) {
	a.arbiter.Track(req.CorrelationID)

	var title string
	if req.ToolName != "" {
		title = req.ToolName
	} else {
		title = req.Title
	}

	var detail *ConfirmationRequest
	switch req.DetailKind {
	case DetailExec:
		detail = NewConfirmationRequest("exec", &ExecuteDetails{Command: req.Command}, nil, nil, title)
	case DetailEdit:
		detail = NewConfirmationRequest("edit", nil, &FileEditDetails{
			FileName:      req.FileName,
			FilePath:      req.FilePath,
			OldContent:    req.OldContent,
			NewContent:    req.NewContent,
			FormattedDiff: req.FormattedDiff,
		}, nil, title)
	case DetailMCP:
		detail = NewConfirmationRequest("mcp", nil, nil, &MCPDetails{ServerName: req.ServerName, ToolName: req.ToolName}, title)
	default:
		detail = NewConfirmationRequest("generic", nil, nil, nil, title)
	}

	a.broadcaster.Broadcast(Event{
		Kind:                KindToolCallUpdate,
		ToolCallID:          req.ToolCallID,
		ToolName:            req.ToolName,
		Status:              StatusPending,
		ConfirmationRequest: detail,
	})
}

func (a *EventBusAdapter) handleToolCallsUpdate(batch []ToolCallUpdate) {
	for _, u := range batch {
		status := MapToolStatus(u.Status)

		evt := Event{
			Kind:        KindToolCallUpdate,
			ToolCallID:  u.ToolCallID,
			ToolName:    u.ToolName,
			Status:      status,
			LiveContent: u.LiveContent,
		}

		switch status {
		case StatusSucceeded:
			text := u.ResultText
			if text == "" {
				text = "Success"
			}
			evt.Result = &ToolResult{Output: &ToolResultOutput{Text: text}}
		case StatusFailed:
			msg := u.ErrorText
			if msg == "" {
				msg = "Unknown error"
			}
			evt.Result = &ToolResult{Error: &ToolResultError{Message: msg}}
		}

		a.broadcaster.Broadcast(evt)
	}
}

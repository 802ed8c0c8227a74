package bridge

import "context"

// HostEventKind tags the variant of an event arriving from the host's
// internal event stream (§6.3 of the bridge contract).
type HostEventKind string

const (
	HostThought         HostEventKind = "Thought"
	HostContent         HostEventKind = "Content"
	HostToolCallRequest HostEventKind = "ToolCallRequest"
	HostOutput          HostEventKind = "Output"
	HostConsoleLog      HostEventKind = "ConsoleLog"
	HostHookStart       HostEventKind = "HookStart"
	HostHookEnd         HostEventKind = "HookEnd"
)

// HostEvent is one item from the host's event stream. Only the fields
// relevant to Kind are populated; the adapter never inspects fields
// outside of that set.
type HostEvent struct {
	Kind HostEventKind

	// Thought
	Subject     string
	Description string

	// Content / Output
	Chunk    string
	IsStderr bool

	// ToolCallRequest
	ToolCallID      string
	ToolName        string
	InputParameters map[string]any

	// ConsoleLog
	LogLevel   string
	LogMessage string

	// HookStart / HookEnd
	HookName string
	Success  *bool
}

// ToolCallUpdate is one entry of a TOOL_CALLS_UPDATE batch published on
// the host's message bus.
type ToolCallUpdate struct {
	ToolCallID  string
	ToolName    string
	Status      string // host-side status name, mapped via MapToolStatus
	LiveContent string
	ResultText  string // filled when Status maps to SUCCEEDED
	ErrorText   string // filled when Status maps to FAILED
}

// ConfirmationDetailKind selects which detail variant a confirmation
// request populates.
type ConfirmationDetailKind string

const (
	DetailExec    ConfirmationDetailKind = "exec"
	DetailEdit    ConfirmationDetailKind = "edit"
	DetailMCP     ConfirmationDetailKind = "mcp"
	DetailGeneric ConfirmationDetailKind = "generic"
)

// HostConfirmationRequest is a pending tool-confirmation as reported by
// the host's tool executor.
type HostConfirmationRequest struct {
	CorrelationID string // identical to ToolCallID on the wire
	ToolCallID    string
	ToolName      string
	DetailKind    ConfirmationDetailKind
	Title         string

	Command string // exec

	FileName      string // edit
	FilePath      string
	OldContent    string
	NewContent    string
	FormattedDiff string

	ServerName string // mcp
}

// ConfirmationResponse is published back onto the host's message bus by
// the Confirmation Arbiter once a participant's response is admitted.
type ConfirmationResponse struct {
	CorrelationID string
	Confirmed     bool
}

// HostEvents is the subscription handle the Event Bus Adapter reads from.
// Close is called by the Event Bus Adapter when its Run returns, to stop
// delivery; it must be safe to call more than once.
type HostEvents interface {
	Events() <-chan HostEvent
	Close()
}

// MessageBus is the host's pub/sub surface for confirmation lifecycle
// messages (§6.3). Subscriptions deliver until the supplied context is
// cancelled.
type MessageBus interface {
	SubscribeConfirmationRequests(ctx context.Context) <-chan HostConfirmationRequest
	SubscribeToolCallsUpdate(ctx context.Context) <-chan []ToolCallUpdate
	PublishConfirmationResponse(resp ConfirmationResponse) error
}

// Host is the entire contract the bridge core depends on. Nothing else
// from the embedding program is visible to the core.
type Host interface {
	// Subscribe opens a new host-event subscription. The adapter owns the
	// returned handle and must Close it on shutdown.
	Subscribe(ctx context.Context) HostEvents

	Bus() MessageBus

	// Inject delivers a string to the host exactly as if it had been
	// typed at the terminal.
	Inject(text string) error

	// SessionID is immutable for the process lifetime.
	SessionID() string

	// Port is the configured bridge listen port. Zero disables the server.
	Port() int
}

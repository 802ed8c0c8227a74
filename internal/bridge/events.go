package bridge

// EventKind tags the variant of a canonical event.
type EventKind string

const (
	KindThought         EventKind = "THOUGHT"
	KindTextContent     EventKind = "TEXT_CONTENT"
	KindToolCallUpdate  EventKind = "TOOL_CALL_UPDATE"
	KindConsoleLog      EventKind = "CONSOLE_LOG"
	KindHook            EventKind = "HOOK"
)

// ToolCallStatus is the lifecycle status of a tool call as seen by peers.
type ToolCallStatus string

const (
	StatusPending   ToolCallStatus = "PENDING"
	StatusExecuting ToolCallStatus = "EXECUTING"
	StatusSucceeded ToolCallStatus = "SUCCEEDED"
	StatusFailed    ToolCallStatus = "FAILED"
	StatusCancelled ToolCallStatus = "CANCELLED"
)

// MapToolStatus translates a host-side tool execution status name into the
// wire status. Anything unrecognized maps to PENDING.
func MapToolStatus(hostStatus string) ToolCallStatus {
	switch hostStatus {
	case "AwaitingApproval":
		return StatusPending
	case "Executing":
		return StatusExecuting
	case "Success":
		return StatusSucceeded
	case "Error":
		return StatusFailed
	case "Cancelled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// ConsoleLogLevel is the severity of a CONSOLE_LOG event.
type ConsoleLogLevel string

const (
	LogInfo  ConsoleLogLevel = "info"
	LogWarn  ConsoleLogLevel = "warn"
	LogError ConsoleLogLevel = "error"
	LogDebug ConsoleLogLevel = "debug"
)

// HookPhase marks whether a HOOK event is the start or end boundary.
type HookPhase string

const (
	HookStart HookPhase = "start"
	HookEnd   HookPhase = "end"
)

// ToolResultOutput carries the successful-result text of a finished tool call.
type ToolResultOutput struct {
	Text string `json:"text"`
}

// ToolResultError carries the failure message of a finished tool call.
type ToolResultError struct {
	Message string `json:"message"`
}

// ToolResult wraps either the success or the error branch of a finished
// tool call. Exactly one of Output/Error is populated.
type ToolResult struct {
	Output *ToolResultOutput `json:"output,omitempty"`
	Error  *ToolResultError  `json:"error,omitempty"`
}

// Event is the canonical, tagged representation of everything the bridge
// core emits. TaskID is stamped by the Broadcaster on every event
// immediately before delivery and must never be set by a caller.
type Event struct {
	Kind   EventKind `json:"kind"`
	TaskID string    `json:"taskId"`

	// THOUGHT
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`

	// TEXT_CONTENT
	Text     string `json:"text,omitempty"`
	IsStderr bool   `json:"isStderr,omitempty"`

	// TOOL_CALL_UPDATE
	ToolCallID          string                 `json:"tool_call_id,omitempty"`
	ToolName            string                 `json:"tool_name,omitempty"`
	Status              ToolCallStatus         `json:"status,omitempty"`
	InputParameters     map[string]any         `json:"input_parameters,omitempty"`
	LiveContent         string                 `json:"live_content,omitempty"`
	Result              *ToolResult            `json:"result,omitempty"`
	ConfirmationRequest *ConfirmationRequest   `json:"confirmation_request,omitempty"`

	// CONSOLE_LOG
	LogType    ConsoleLogLevel `json:"type,omitempty"`
	LogContent string          `json:"content,omitempty"`

	// HOOK
	HookName string    `json:"hookName,omitempty"`
	Phase    HookPhase `json:"phase,omitempty"`
	Success  *bool     `json:"success,omitempty"`
}

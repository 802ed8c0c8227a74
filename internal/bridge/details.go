package bridge

// ConfirmationOption is one of the two fixed options offered for a
// tool-confirmation request.
type ConfirmationOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// confirmationOptions is the fixed, order-significant option list every
// confirmation request carries. proceed_once is the sole affirmative id;
// every other value, including ones a future client might invent, is
// interpreted as negative by the Arbiter.
var confirmationOptions = []ConfirmationOption{
	{ID: "proceed_once", Name: "Allow Once"},
	{ID: "cancel", Name: "Cancel"},
}

// ExecuteDetails describes a pending shell/exec tool confirmation.
type ExecuteDetails struct {
	Command string `json:"command"`
}

// FileEditDetails describes a pending file-edit tool confirmation.
type FileEditDetails struct {
	FileName      string `json:"file_name"`
	FilePath      string `json:"file_path"`
	OldContent    string `json:"old_content"`
	NewContent    string `json:"new_content"`
	FormattedDiff string `json:"formatted_diff"`
}

// MCPDetails describes a pending MCP tool confirmation.
type MCPDetails struct {
	ServerName string `json:"server_name"`
	ToolName   string `json:"tool_name"`
}

// GenericDetails is the fallback confirmation detail for tool kinds the
// bridge does not recognize.
type GenericDetails struct {
	Description string `json:"description"`
}

// ConfirmationRequest is the wire representation of a pending
// tool-confirmation, embedded inside a TOOL_CALL_UPDATE event.
type ConfirmationRequest struct {
	Options         []ConfirmationOption `json:"options"`
	ExecuteDetails  *ExecuteDetails      `json:"execute_details,omitempty"`
	FileEditDetails *FileEditDetails     `json:"file_edit_details,omitempty"`
	MCPDetails      *MCPDetails          `json:"mcp_details,omitempty"`
	GenericDetails  *GenericDetails      `json:"generic_details,omitempty"`
}

// NewConfirmationRequest builds a confirmation request populated per the
// fixed option list and one of the four detail variants, selected by
// kind ("exec", "edit", "mcp", anything else falls through to generic).
func NewConfirmationRequest(kind string, exec *ExecuteDetails, edit *FileEditDetails, mcp *MCPDetails, title string) *ConfirmationRequest {
	req := &ConfirmationRequest{Options: confirmationOptions}
	switch kind {
	case "exec":
		req.ExecuteDetails = exec
	case "edit":
		req.FileEditDetails = edit
	case "mcp":
		req.MCPDetails = mcp
	default:
		if title == "" {
			title = "Tool confirmation required"
		}
		req.GenericDetails = &GenericDetails{Description: title}
	}
	return req
}

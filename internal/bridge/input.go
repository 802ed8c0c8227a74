package bridge

import "log/slog"

// InputRouter classifies inbound peer messages and forwards each to the
// right destination: prompts go to the host's input-injection hook;
// confirmation responses go to the Arbiter. Anything else is dropped
// with a debug log — this mirrors the reference behavior of never
// surfacing an error for an unrecognized frame shape.
type InputRouter struct {
	host    Host
	arbiter *Arbiter
	logger  *slog.Logger
}

// NewInputRouter builds a router bound to a host and an arbiter.
func NewInputRouter(host Host, arbiter *Arbiter, logger *slog.Logger) *InputRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InputRouter{host: host, arbiter: arbiter, logger: logger}
}

// Route dispatches one decoded peer message. Prompt injection on the
// framed-socket transport and the SSE transport share this single code
// path: the host treats injected input exactly as terminal input,
// including echoing it back through the normal event stream.
func (r *InputRouter) Route(msg PeerMessage) {
	switch msg.Kind {
	case PeerMessagePrompt:
		if err := r.host.Inject(msg.Text); err != nil {
			r.logger.Error("inject prompt", "error", err)
		}

	case PeerMessageConfirmation:
		r.arbiter.Resolve(msg.ToolCallID, msg.SelectedOptionID)

	default:
		r.logger.Debug("inbound peer message dropped, unrecognized content shape")
	}
}

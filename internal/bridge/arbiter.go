package bridge

import (
	"log/slog"
	"sync"
)

// Arbiter tracks outstanding tool-confirmation requests by correlation
// id and admits exactly one response per id. A single mutex-guarded map
// is sufficient per the design: the entry's presence IS the pending
// state, so resolution is a single delete under the lock, with no
// second flag to keep consistent.
type Arbiter struct {
	mu      sync.Mutex
	pending map[string]struct{}
	bus     MessageBus
	logger  *slog.Logger
}

// NewArbiter builds an Arbiter that publishes resolutions onto bus.
func NewArbiter(bus MessageBus, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{pending: make(map[string]struct{}), bus: bus, logger: logger}
}

// Track registers a new outstanding correlation id. Called by the Event
// Bus Adapter when the host reports a confirmation request.
func (a *Arbiter) Track(correlationID string) {
	a.mu.Lock()
	a.pending[correlationID] = struct{}{}
	a.mu.Unlock()
}

// Resolve admits the first response for correlationID from any source
// and discards every later one. optionID == "proceed_once" is the sole
// affirmative value; every other id, including unrecognized future ids,
// is treated as negative. Returns true if this call was the one that
// resolved the request.
func (a *Arbiter) Resolve(correlationID, optionID string) bool {
	a.mu.Lock()
	_, present := a.pending[correlationID]
	if present {
		delete(a.pending, correlationID)
	}
	a.mu.Unlock()

	if !present {
		a.logger.Debug("duplicate or unknown confirmation response ignored", "correlation_id", correlationID)
		return false
	}

	confirmed := optionID == "proceed_once"
	if err := a.bus.PublishConfirmationResponse(ConfirmationResponse{
		CorrelationID: correlationID,
		Confirmed:     confirmed,
	}); err != nil {
		a.logger.Error("publish confirmation response", "error", err, "correlation_id", correlationID)
	}
	return true
}

// Cancel drops a pending correlation id without publishing a response,
// used when the host itself tears down a request (e.g. on shutdown).
func (a *Arbiter) Cancel(correlationID string) {
	a.mu.Lock()
	delete(a.pending, correlationID)
	a.mu.Unlock()
}

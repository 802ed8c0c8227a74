package bridge

import "log/slog"

// Broadcaster stamps the current session id on every event and fans it
// out to every registered peer, encoding once per transport kind. It
// holds no peer lock while serializing: encoding happens before the
// registry is touched.
type Broadcaster struct {
	registry  *Registry
	sessionID string
	logger    *slog.Logger
}

// NewBroadcaster builds a Broadcaster bound to a registry and the
// process-wide session id.
func NewBroadcaster(registry *Registry, sessionID string, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, sessionID: sessionID, logger: logger}
}

// Broadcast stamps evt.TaskID with the session id and delivers it to
// every registered peer. Framed-socket peers and SSE peers each receive
// their own wire encoding of the same logical event.
func (b *Broadcaster) Broadcast(evt Event) {
	evt.TaskID = b.sessionID

	framedSocketFrame, err := EncodeFramedSocket(evt)
	if err != nil {
		b.logger.Error("encode framed-socket frame", "error", err, "kind", evt.Kind)
		framedSocketFrame = nil
	}
	sseFrame, err := EncodeSSE(evt)
	if err != nil {
		b.logger.Error("encode SSE frame", "error", err, "kind", evt.Kind)
		sseFrame = nil
	}

	b.registry.ForEachOpen(func(p *Peer) {
		switch p.Transport {
		case TransportFramedSocket:
			if framedSocketFrame != nil {
				p.enqueue(framedSocketFrame)
			}
		case TransportSSE:
			if sseFrame != nil {
				p.enqueue(sseFrame)
			}
		}
	})
}

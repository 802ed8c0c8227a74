package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// TransportKind identifies which transport a peer connected over.
type TransportKind string

const (
	TransportFramedSocket TransportKind = "framed-socket"
	TransportSSE          TransportKind = "sse"
)

// Peer is one connected external client. Peers never migrate
// transports; a reconnecting client gets a new Peer and a new id.
type Peer struct {
	ID        string
	Transport TransportKind

	// mu guards outbound and isClosed together so a send can never race
	// a close: enqueue and close both take mu before touching either.
	mu       sync.Mutex
	outbound chan []byte
	isClosed bool

	dropped atomic.Int64
	lossy   atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(transport TransportKind, capacity int) *Peer {
	return &Peer{
		ID:        uuid.NewString(),
		Transport: transport,
		outbound:  make(chan []byte, capacity),
		closed:    make(chan struct{}),
	}
}

// Outbound is the channel the peer's write worker drains. It is closed
// when the peer is unregistered.
func (p *Peer) Outbound() <-chan []byte { return p.outbound }

// Lossy reports whether this peer has ever dropped a frame.
func (p *Peer) Lossy() bool { return p.lossy.Load() }

// Dropped reports the running count of frames dropped for this peer.
func (p *Peer) Dropped() int64 { return p.dropped.Load() }

// enqueue attempts a non-blocking send. If the queue is full, it drops
// the single oldest queued frame to make room, then enqueues the new
// one — drop-oldest semantics rather than drop-newest. Holds mu for the
// whole operation so it can never land on a channel close() is tearing
// down concurrently.
func (p *Peer) enqueue(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return
	}

	select {
	case p.outbound <- frame:
		return
	default:
	}

	select {
	case <-p.outbound:
		p.dropped.Add(1)
		p.lossy.Store(true)
	default:
	}

	select {
	case p.outbound <- frame:
	default:
		// Lost a race with another producer draining/filling the queue;
		// the frame is simply dropped rather than blocking.
		p.dropped.Add(1)
		p.lossy.Store(true)
	}
}

// close marks the peer closed and closes its outbound queue under mu so
// no enqueue can observe a half-closed state. Safe to call more than
// once; idempotent via closeOnce.
func (p *Peer) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.isClosed = true
		close(p.outbound)
		p.mu.Unlock()
		close(p.closed)
	})
}

// Registry holds every live peer, keyed by id. Safe for concurrent use
// by the Broadcaster (reader), connection-accept goroutines (writer),
// and close callbacks (writer).
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*Peer
	capacity int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. capacity bounds each peer's
// outbound queue.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{peers: make(map[string]*Peer), capacity: capacity, logger: logger}
}

// Register admits a new peer of the given transport kind and returns its
// handle. Callers must only register a peer once its underlying
// transport is confirmed open.
func (r *Registry) Register(transport TransportKind) *Peer {
	p := newPeer(transport, r.capacity)
	r.mu.Lock()
	r.peers[p.ID] = p
	count := len(r.peers)
	r.mu.Unlock()
	r.logger.Debug("peer registered", "peer_id", p.ID, "transport", transport, "peers", count)
	return p
}

// Unregister removes a peer and closes its outbound queue. Safe to call
// more than once for the same peer.
func (r *Registry) Unregister(p *Peer) {
	r.mu.Lock()
	_, ok := r.peers[p.ID]
	if ok {
		delete(r.peers, p.ID)
	}
	count := len(r.peers)
	r.mu.Unlock()

	if !ok {
		return
	}
	p.close()
	r.logger.Debug("peer unregistered", "peer_id", p.ID, "dropped_frames", p.Dropped(), "peers", count)
}

// ForEachOpen invokes fn once per currently-registered peer. The set is
// snapshotted under a brief read lock before fn is invoked, so
// unregistration concurrent with iteration cannot cause a use-after-free
// and cannot block the registry.
func (r *Registry) ForEachOpen(fn func(*Peer)) {
	r.mu.RLock()
	snapshot := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		snapshot = append(snapshot, p)
	}
	r.mu.RUnlock()

	for _, p := range snapshot {
		fn(p)
	}
}

// CloseAll unregisters and closes every peer. Called by the Lifecycle
// Controller during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		snapshot = append(snapshot, p)
	}
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	for _, p := range snapshot {
		p.close()
	}
}

// Count returns the number of currently registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

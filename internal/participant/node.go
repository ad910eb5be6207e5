// Package participant implements the participant role of the 3PC protocol:
// the per-transaction local state machine and recovery via history replay.
package participant

import (
	"math/rand"
	"net"
	"strconv"
	"sync"

	lock "github.com/viney-shih/go-lock"

	"threepc/internal/audit"
	"threepc/internal/health"
	"threepc/internal/xlog"
)

// Node owns every piece of shared participant state behind one lock: the
// four per-transaction sets, the single pending_vote and pending_decision
// slots, and the crashed flag. No blocking I/O happens while mu is held.
type Node struct {
	mu lock.RWMutex

	id              string
	host            string
	port            int
	coordinatorAddr string

	state           localState
	pendingVote     *pendingVote
	pendingDecision *pendingDecision
	generation      uint64

	failureRate float64
	crashed     bool

	listener *net.TCPListener
	stop     chan struct{}
	wg       sync.WaitGroup

	audit  *audit.Async
	health *health.Server
}

// NewNode constructs a participant bound to host:port, registering itself
// against coordinatorAddr.
func NewNode(id, host string, port int, coordinatorAddr string) *Node {
	return &Node{
		mu:              lock.NewCASMutex(),
		id:              id,
		host:            host,
		port:            port,
		coordinatorAddr: coordinatorAddr,
		state:           newLocalState(),
		audit:           audit.NewAsync(audit.NoopSink{}, id, 256),
	}
}

// WithAudit replaces the node's audit sink (default is a no-op sink).
func (n *Node) WithAudit(sink audit.Sink) {
	n.audit.Close()
	n.audit = audit.NewAsync(sink, n.id, 256)
}

// WithHealth attaches an embedded health server for liveness probing.
func (n *Node) WithHealth(h *health.Server) {
	n.health = h
}

// SetFailureRate sets the probability (0..1) that an inbound message is
// answered with a synthesized negative response instead of being processed.
func (n *Node) SetFailureRate(rate float64) {
	n.mu.Lock()
	n.failureRate = rate
	n.mu.Unlock()
}

func (n *Node) FailureRate() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failureRate
}

// injectedFailure rolls the dice against the current failure rate.
func (n *Node) injectedFailure() bool {
	rate := n.FailureRate()
	return rate > 0 && rand.Float64() < rate
}

// Start binds the listener and begins accepting connections in the
// background, then registers with the coordinator. A REGISTER failure (the
// coordinator not yet up) is logged, not fatal — only argument errors exit
// the process non-zero, and the operator `recover` command re-sends
// REGISTER later.
func (n *Node) Start() error {
	ln, err := listenTCP(n.host + ":" + strconv.Itoa(n.port))
	if err != nil {
		return err
	}
	n.listener = ln
	n.stop = make(chan struct{})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.serve()
	}()
	xlog.Protocolf("participant %s listening on %s:%d", n.id, n.host, n.port)
	if err := n.sendRegister(); err != nil {
		xlog.Warnf("participant %s: initial registration failed, retry with 'recover': %v", n.id, err)
	}
	return nil
}

// Stop closes the listener and waits for in-flight handlers to drain.
func (n *Node) Stop() {
	close(n.stop)
	if n.listener != nil {
		n.listener.Close()
	}
	n.wg.Wait()
	n.audit.Close()
	if n.health != nil {
		n.health.Stop()
	}
}

// Crashed reports the node's crash flag.
func (n *Node) Crashed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.crashed
}

// Crash sets the crash flag; while crashed, inbound messages are read and
// discarded.
func (n *Node) Crash() bool {
	n.mu.Lock()
	already := n.crashed
	n.crashed = true
	n.mu.Unlock()
	if n.health != nil {
		n.health.SetCrashed()
	}
	return !already
}

// nextGeneration returns a fresh generation id for a newly parked pending
// slot, invalidating any timeout goroutine armed for a previous occupant.
func (n *Node) nextGeneration() uint64 {
	n.generation++
	return n.generation
}

// Status reports this participant's QUERY_STATE view of one transaction, in
// precedence order committed -> prepared -> waited -> aborted -> unknown.
func (n *Node) Status(txID string) LocalStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked(txID)
}

// PendingDecisionKind reports the kind ("commit" or "abort") of the
// currently parked pending decision, if any, so a caller can choose between
// AckCommit and AckAbort without guessing.
func (n *Node) PendingDecisionKind() (kind string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pendingDecision == nil {
		return "", false
	}
	return n.pendingDecision.Kind, true
}

func (n *Node) statusLocked(txID string) LocalStatus {
	if _, ok := n.state.committed[txID]; ok {
		return StatusCommitted
	}
	if n.state.prepared[txID] {
		return StatusPrepared
	}
	if n.state.waited[txID] {
		return StatusWaited
	}
	if n.state.aborted[txID] {
		return StatusAborted
	}
	return StatusUnknown
}


// Package coordinator implements the coordinator role of the 3PC protocol:
// the per-transaction driver, crash/recovery, and the
// REGISTER/HISTORY_REQUEST/VOTE_RESPONSE/ACK_RESPONSE admin surface.
package coordinator

import (
	"errors"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	lock "github.com/viney-shih/go-lock"

	"threepc/internal/audit"
	"threepc/internal/health"
	"threepc/internal/xlog"
)

// ErrNoParticipants describes an empty registry at transaction start.
// ExecuteTransaction does not return it; it reports that case as false.
var ErrNoParticipants = errors.New("coordinator: no registered participants")

// peekTimeout bounds the non-blocking lock attempt used by the `status`
// operator command (ListTransactions) so it reports "busy" instead of
// hanging while a driver holds the lock for a state update. `list`
// (ListParticipants) takes the lock normally.
const peekTimeout = 200 * time.Millisecond

// Node owns every piece of shared coordinator state behind one lock: the
// participant registry, the transaction table, the history, and the
// crashed flag. No blocking I/O happens while mu is held.
type Node struct {
	mu lock.RWMutex

	participants      map[string]ParticipantRegistration
	participantOrder  []string // registration order, the basis for a transaction's Snapshot
	transactions      map[string]*TransactionRecord
	history           []HistoryEntry
	crashed           bool

	addr     string
	listener *net.TCPListener
	stop     chan struct{}
	wg       sync.WaitGroup

	audit  *audit.Async
	health *health.Server
}

// NewNode constructs a coordinator bound to addr (not yet listening).
func NewNode(addr string) *Node {
	return &Node{
		mu:           lock.NewCASMutex(),
		participants: make(map[string]ParticipantRegistration),
		transactions: make(map[string]*TransactionRecord),
		history:      make([]HistoryEntry, 0),
		addr:         addr,
		stop:         make(chan struct{}),
		audit:        audit.NewAsync(audit.NoopSink{}, "coordinator", 256),
	}
}

// WithAudit replaces the node's audit sink (default is a no-op sink).
func (n *Node) WithAudit(sink audit.Sink) {
	n.audit.Close()
	n.audit = audit.NewAsync(sink, "coordinator", 256)
}

// WithHealth attaches an embedded health server for liveness probing.
func (n *Node) WithHealth(h *health.Server) {
	n.health = h
}

// Start binds the listener and begins accepting connections in the
// background. Callers drive the operator command loop separately.
func (n *Node) Start() error {
	ln, err := listenTCP(n.addr)
	if err != nil {
		return err
	}
	n.listener = ln
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.serve()
	}()
	xlog.Protocolf("coordinator listening on %s", n.addr)
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

// Register idempotently upserts a participant registration.
func (n *Node) Register(id, host string, port int) {
	n.mu.Lock()
	if _, existed := n.participants[id]; !existed {
		n.participantOrder = append(n.participantOrder, id)
	}
	n.participants[id] = ParticipantRegistration{ID: id, Host: host, Port: port}
	n.mu.Unlock()
	xlog.Protocolf("registered participant %s (%s:%d)", id, host, port)
	n.audit.Enqueue(audit.Record{
		Kind: "register", TransactionID: "", ParticipantID: id, Host: host, Port: port,
		OccurredAt: time.Now().Unix(),
	})
}

// ListParticipants returns a snapshot of the current registry.
func (n *Node) ListParticipants() []ParticipantRegistration {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ParticipantRegistration, 0, len(n.participants))
	for _, p := range n.participants {
		out = append(out, p)
	}
	return out
}

// Crashed reports the node's crash flag.
func (n *Node) Crashed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.crashed
}

// Crash sets the crash flag, refusing all but REGISTER/HISTORY_REQUEST and
// new transactions.
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

// TransactionSnapshot returns a copy of one transaction's record, or false
// if unknown.
func (n *Node) TransactionSnapshot(id string) (TransactionRecord, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.transactions[id]
	if !ok {
		return TransactionRecord{}, false
	}
	return cloneTx(tx), true
}

// ListTransactions returns a snapshot of every transaction's current state,
// used by the `status` operator command. It takes a non-blocking peek at
// the lock (peekTimeout) rather than stalling the console while a driver
// holds it for a state update; ok is false if the peek timed out.
func (n *Node) ListTransactions() (out []TransactionRecord, ok bool) {
	if !n.mu.TryLockWithTimeout(peekTimeout) {
		return nil, false
	}
	defer n.mu.Unlock()
	out = make([]TransactionRecord, 0, len(n.transactions))
	for _, tx := range n.transactions {
		out = append(out, cloneTx(tx))
	}
	return out, true
}

// History returns a snapshot of the append-only history, ordered by append
// time.
func (n *Node) History() []HistoryEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]HistoryEntry, len(n.history))
	copy(out, n.history)
	return out
}

func cloneTx(tx *TransactionRecord) TransactionRecord {
	cp := *tx
	cp.Data = cloneStringMap(tx.Data)
	cp.Participants = append([]string(nil), tx.Participants...)
	cp.VotesC = cloneBoolMap(tx.VotesC)
	cp.VotesP = cloneBoolMap(tx.VotesP)
	cp.Acks = cloneStringMap(tx.Acks)
	return cp
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// snapshotParticipantIDs returns the currently registered participant ids in
// registration order — the participant set a new transaction captures at
// execute time.
func (n *Node) snapshotParticipantIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.participantOrder))
	for _, id := range n.participantOrder {
		if _, ok := n.participants[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// participantSet returns a set of the currently registered participant ids,
// used by recovery to partition a transaction's original snapshot into
// reachable vs. de-registered participants.
func (n *Node) participantSet() mapset.Set {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := mapset.NewSet()
	for id := range n.participants {
		s.Add(id)
	}
	return s
}

func (n *Node) lookupParticipant(id string) (ParticipantRegistration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.participants[id]
	return p, ok
}

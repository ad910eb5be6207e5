package participant

// LocalStatus is the status reported by QUERY_STATE.
type LocalStatus string

const (
	StatusUnknown   LocalStatus = "UNKNOWN"
	StatusWaited    LocalStatus = "WAITED"
	StatusPrepared  LocalStatus = "PREPARED"
	StatusCommitted LocalStatus = "COMMITTED"
	StatusAborted   LocalStatus = "ABORTED"
)

// localState holds the four disjoint per-transaction sets:
// waited, prepared, aborted, committed(->data).
type localState struct {
	waited    map[string]bool
	prepared  map[string]bool
	aborted   map[string]bool
	committed map[string]map[string]string
}

func newLocalState() localState {
	return localState{
		waited:    make(map[string]bool),
		prepared:  make(map[string]bool),
		aborted:   make(map[string]bool),
		committed: make(map[string]map[string]string),
	}
}

// pendingVote is the single (tx_id, data) parked while awaiting an operator
// cancommit/precommit vote.
type pendingVote struct {
	TransactionID string
	Data          map[string]string
	// Phase is CANCOMMIT or PRECOMMIT: which request this vote answers.
	Phase string
	// generation distinguishes this parked vote from a later one with the
	// same transaction id, so a stale timeout goroutine no-ops correctly.
	generation uint64
}

// pendingDecision is the single (tx_id, data, kind) parked while awaiting an
// operator ACK.
type pendingDecision struct {
	TransactionID string
	Data          map[string]string
	Kind          string // "commit" | "abort"
	generation    uint64
}

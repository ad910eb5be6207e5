package coordinator

import (
	"threepc/internal/protocol"
	"threepc/internal/xlog"
)

// Recover clears the crash flag, then for every transaction left in a
// non-terminal state, probes the still-registered members of the
// transaction's snapshot for local state and completes the transaction's
// decision. The completion messages
// go to whoever is registered NOW, not to the transaction's original
// snapshot — recovery re-targets the live registry rather than replaying
// against a stale membership view.
func (n *Node) Recover() {
	n.mu.Lock()
	n.crashed = false
	n.mu.Unlock()
	if n.health != nil {
		n.health.SetRecovered()
	}
	xlog.Recoveryf("coordinator recovering")

	for _, tx := range n.unfinishedTransactions() {
		n.recoverTransaction(tx)
	}
	xlog.Recoveryf("coordinator recovery complete")
}

func (n *Node) unfinishedTransactions() []*TransactionRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*TransactionRecord, 0)
	for _, tx := range n.transactions {
		if tx.Status.nonTerminal() {
			out = append(out, tx)
		}
	}
	return out
}

// recoverTransaction implements §4.3 step 3. The participant probe in step 1
// is diagnostic (logged, and used only to skip unregistered ids) — the
// decision itself is keyed by the transaction's own last-recorded
// coordinator-side status, with one exception: the PREPARING/PREPARED
// bucket additionally requires votesC to be complete and unanimous.
func (n *Node) recoverTransaction(tx *TransactionRecord) {
	xlog.Recoveryf("transaction %s: recovering from status %s", tx.ID, tx.Status)
	n.queryParticipantStates(tx) // diagnostic: logs reachability and reported state

	var decideCommit bool
	switch tx.Status {
	case StatusWaiting, StatusWaited:
		decideCommit = false
	case StatusPreparing, StatusPrepared:
		n.mu.Lock()
		complete := len(tx.VotesC) == len(tx.Participants)
		votes := cloneBoolMap(tx.VotesC)
		n.mu.Unlock()
		decideCommit = complete && allYes(votes)
	case StatusCommitting:
		decideCommit = true
	case StatusAborting:
		decideCommit = false
	}

	current := n.currentRegistry()
	if decideCommit {
		xlog.Recoveryf("transaction %s: recovery decision COMMIT", tx.ID)
		n.completeCommit(tx, current)
		return
	}
	xlog.Recoveryf("transaction %s: recovery decision ABORT", tx.ID)
	n.completeAbort(tx, current)
}

// currentRegistry returns the currently registered participant ids.
func (n *Node) currentRegistry() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.participants))
	for id := range n.participants {
		out = append(out, id)
	}
	return out
}

// queryParticipantStates force-sends QUERY_STATE to every participant in
// tx's snapshot that is still registered, bypassing the coordinator's own
// crash gate since Recover has just cleared it but a concurrent admin
// command could race it. Snapshot members that are no longer registered
// are skipped.
func (n *Node) queryParticipantStates(tx *TransactionRecord) map[string]string {
	msg := protocol.New(protocol.QueryState, tx.ID, nil)
	states := make(map[string]string)
	registered := n.participantSet()
	for _, pid := range tx.Participants {
		if !registered.Contains(pid) {
			xlog.Recoveryf("transaction %s: participant %s no longer registered, skipping probe", tx.ID, pid)
			continue
		}
		resp := n.sendMessage(pid, msg, true)
		if resp == nil || resp.MsgType != protocol.StateResponse {
			continue
		}
		status := resp.DataAsStrings()["status"]
		if status == "" {
			continue
		}
		states[pid] = status
		xlog.Recoveryf("transaction %s: participant %s reports status %s", tx.ID, pid, status)
	}
	return states
}

func (n *Node) completeCommit(tx *TransactionRecord, participants []string) {
	n.setStatus(tx, StatusCommitting)
	acks, crashed := n.collectAcks(tx, participants, protocol.Commit)
	if crashed {
		return
	}
	allCommitted := len(participants) > 0
	for _, pid := range participants {
		if acks[pid] != string(protocol.AckCommit) {
			allCommitted = false
			break
		}
	}
	if allCommitted {
		n.appendHistory(tx, StatusCommitted)
		n.setStatus(tx, StatusCommitted)
		xlog.Recoveryf("transaction %s: recovery completed COMMIT", tx.ID)
		return
	}
	n.appendHistory(tx, StatusAborted)
	n.setStatus(tx, StatusAborted)
	xlog.Recoveryf("transaction %s: recovery downgraded to ABORT (missing ACK_COMMIT)", tx.ID)
}

func (n *Node) completeAbort(tx *TransactionRecord, participants []string) {
	n.setStatus(tx, StatusAborting)
	_, crashed := n.collectAcks(tx, participants, protocol.Abort)
	if crashed {
		return
	}
	n.appendHistory(tx, StatusAborted)
	n.setStatus(tx, StatusAborted)
	xlog.Recoveryf("transaction %s: recovery completed ABORT", tx.ID)
}

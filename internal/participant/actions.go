package participant

import (
	"threepc/internal/protocol"
	"threepc/internal/xlog"
)

// VoteCanCommit resolves a parked CANCOMMIT vote by operator decision. It
// reports ok=false if no CANCOMMIT vote is currently parked.
func (n *Node) VoteCanCommit(yes bool) (txID string, ok bool) {
	n.mu.Lock()
	pv := n.pendingVote
	if pv == nil || pv.Phase != "CANCOMMIT" {
		n.mu.Unlock()
		return "", false
	}
	n.pendingVote = nil
	txID = pv.TransactionID
	if yes {
		n.state.waited[txID] = true
	}
	n.mu.Unlock()

	tag := protocol.CanCommitVoteNo
	if yes {
		tag = protocol.CanCommitVoteYes
	}
	xlog.Protocolf("transaction %s: operator cancommit vote %s", txID, tag)
	n.sendDelayedVote(txID, tag)
	return txID, true
}

// VotePreCommit resolves a parked PRECOMMIT vote by operator decision. On
// YES, the transaction moves atomically from waited to prepared.
func (n *Node) VotePreCommit(yes bool) (txID string, ok bool) {
	n.mu.Lock()
	pv := n.pendingVote
	if pv == nil || pv.Phase != "PRECOMMIT" {
		n.mu.Unlock()
		return "", false
	}
	n.pendingVote = nil
	txID = pv.TransactionID
	if yes {
		delete(n.state.waited, txID)
		n.state.prepared[txID] = true
	}
	n.mu.Unlock()

	tag := protocol.PreCommitVoteNo
	if yes {
		tag = protocol.PreCommitVoteYes
	}
	xlog.Protocolf("transaction %s: operator precommit vote %s", txID, tag)
	n.sendDelayedVote(txID, tag)
	return txID, true
}

// AckCommit resolves a parked commit decision, moving prepared->committed.
// It only applies to a pending_decision of kind "commit" — an operator
// cannot ack-commit a transaction the coordinator told it to abort.
func (n *Node) AckCommit() (txID string, ok bool) {
	n.mu.Lock()
	pd := n.pendingDecision
	if pd == nil || pd.Kind != "commit" {
		n.mu.Unlock()
		return "", false
	}
	n.pendingDecision = nil
	txID = pd.TransactionID
	delete(n.state.prepared, txID)
	n.state.committed[txID] = pd.Data
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: operator ack commit", txID)
	n.sendDelayedAck(txID, protocol.AckCommit)
	return txID, true
}

// AckAbort resolves a parked decision of either kind by locally aborting:
// it applies whether the coordinator asked for a commit (the operator
// chooses to renege) or an abort.
func (n *Node) AckAbort() (txID string, ok bool) {
	n.mu.Lock()
	pd := n.pendingDecision
	if pd == nil {
		n.mu.Unlock()
		return "", false
	}
	n.pendingDecision = nil
	txID = pd.TransactionID
	delete(n.state.prepared, txID)
	delete(n.state.waited, txID)
	n.state.aborted[txID] = true
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: operator ack abort", txID)
	n.sendDelayedAck(txID, protocol.AckAbort)
	return txID, true
}

package participant

import (
	"time"

	"threepc/internal/audit"
	"threepc/internal/protocol"
	"threepc/internal/xlog"
)

// Overridable by tests; these are the production timeout values.
var (
	voteTimeout   = 60 * time.Second
	commitTimeout = 60 * time.Second
	abortTimeout  = 30 * time.Second
)

// handleMessage dispatches one inbound JSON protocol message. A nil return
// means "reply empty" — the coordinator will receive no synchronous reply
// and the real answer, if any, arrives later as a delayed
// VOTE_RESPONSE/ACK_RESPONSE frame.
func (n *Node) handleMessage(msg *protocol.Message) *protocol.Message {
	if n.injectedFailure() {
		xlog.Protocolf("transaction %s: injected failure at %s", msg.TransactionID, msg.MsgType)
		switch msg.MsgType {
		case protocol.CanCommit:
			return protocol.New(protocol.CanCommitVoteNo, msg.TransactionID, nil)
		case protocol.PreCommit:
			return protocol.New(protocol.PreCommitVoteNo, msg.TransactionID, nil)
		default:
			return nil
		}
	}

	switch msg.MsgType {
	case protocol.CanCommit:
		return n.handleCanCommit(msg)
	case protocol.PreCommit:
		return n.handlePreCommit(msg)
	case protocol.Commit:
		return n.handleCommit(msg)
	case protocol.CanCommitAbort, protocol.PreCommitAbort, protocol.Abort:
		return n.handleAbortDirective(msg)
	case protocol.QueryState:
		return n.handleQueryState(msg)
	default:
		xlog.Warnf("unrecognized inbound message type %s", msg.MsgType)
		return nil
	}
}

func (n *Node) handleCanCommit(msg *protocol.Message) *protocol.Message {
	txID := msg.TransactionID
	data := msg.DataAsStrings()

	n.mu.Lock()
	gen := n.nextGeneration()
	n.pendingVote = &pendingVote{TransactionID: txID, Data: data, Phase: "CANCOMMIT", generation: gen}
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: CANCOMMIT parked, awaiting operator vote", txID)
	go n.armVoteTimeout(txID, gen, voteTimeout)
	return nil
}

func (n *Node) handlePreCommit(msg *protocol.Message) *protocol.Message {
	txID := msg.TransactionID
	data := msg.DataAsStrings()

	n.mu.Lock()
	gen := n.nextGeneration()
	n.pendingVote = &pendingVote{TransactionID: txID, Data: data, Phase: "PRECOMMIT", generation: gen}
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: PRECOMMIT parked, awaiting operator vote", txID)
	go n.armVoteTimeout(txID, gen, voteTimeout)
	return nil
}

func (n *Node) handleCommit(msg *protocol.Message) *protocol.Message {
	txID := msg.TransactionID
	data := msg.DataAsStrings()

	n.mu.Lock()
	if _, ok := n.state.committed[txID]; ok {
		n.mu.Unlock()
		xlog.Protocolf("transaction %s: duplicate COMMIT, already committed", txID)
		return protocol.New(protocol.AckCommit, txID, nil)
	}
	if !n.state.prepared[txID] {
		n.mu.Unlock()
		xlog.Warnf("transaction %s: COMMIT for non-prepared transaction, protocol violation defense", txID)
		return protocol.New(protocol.AckAbort, txID, nil)
	}
	gen := n.nextGeneration()
	n.pendingDecision = &pendingDecision{TransactionID: txID, Data: data, Kind: "commit", generation: gen}
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: COMMIT parked, awaiting operator ack", txID)
	go n.armCommitAckTimeout(txID, gen, commitTimeout)
	return nil
}

func (n *Node) handleAbortDirective(msg *protocol.Message) *protocol.Message {
	txID := msg.TransactionID
	data := msg.DataAsStrings()

	n.mu.Lock()
	if n.state.aborted[txID] {
		n.mu.Unlock()
		xlog.Protocolf("transaction %s: duplicate ABORT, already aborted", txID)
		return protocol.New(protocol.AckAbort, txID, nil)
	}
	gen := n.nextGeneration()
	n.pendingDecision = &pendingDecision{TransactionID: txID, Data: data, Kind: "abort", generation: gen}
	n.mu.Unlock()

	xlog.Protocolf("transaction %s: %s parked, awaiting operator ack", txID, msg.MsgType)
	go n.armAbortAckTimeout(txID, gen, abortTimeout)
	return nil
}

func (n *Node) handleQueryState(msg *protocol.Message) *protocol.Message {
	status := n.Status(msg.TransactionID)
	return protocol.New(protocol.StateResponse, msg.TransactionID,
		map[string]interface{}{"status": string(status)})
}

// armVoteTimeout auto-votes NO if the parked vote for txID/generation is
// still present after d.
func (n *Node) armVoteTimeout(txID string, generation uint64, d time.Duration) {
	time.Sleep(d)
	n.mu.Lock()
	pv := n.pendingVote
	if pv == nil || pv.TransactionID != txID || pv.generation != generation {
		n.mu.Unlock()
		return
	}
	n.pendingVote = nil
	phase := pv.Phase
	n.mu.Unlock()

	xlog.Recoveryf("transaction %s: %s vote timed out, auto-voting NO", txID, phase)
	var tag protocol.MessageTag
	if phase == "CANCOMMIT" {
		tag = protocol.CanCommitVoteNo
	} else {
		tag = protocol.PreCommitVoteNo
	}
	n.sendDelayedVote(txID, tag)
}

// armCommitAckTimeout auto-acknowledges COMMIT after d, moving the
// transaction from prepared to committed even without operator action.
func (n *Node) armCommitAckTimeout(txID string, generation uint64, d time.Duration) {
	time.Sleep(d)
	n.mu.Lock()
	pd := n.pendingDecision
	if pd == nil || pd.TransactionID != txID || pd.generation != generation {
		n.mu.Unlock()
		return
	}
	n.pendingDecision = nil
	delete(n.state.prepared, txID)
	n.state.committed[txID] = pd.Data
	n.mu.Unlock()

	xlog.Recoveryf("transaction %s: commit ack timed out, auto-committing locally", txID)
	n.audit.Enqueue(audit.Record{Kind: "auto_ack_commit", NodeID: n.id, TransactionID: txID, Status: "COMMITTED", Data: pd.Data, OccurredAt: time.Now().Unix()})
	n.sendDelayedAck(txID, protocol.AckCommit)
}

// armAbortAckTimeout auto-acknowledges an abort directive after d.
func (n *Node) armAbortAckTimeout(txID string, generation uint64, d time.Duration) {
	time.Sleep(d)
	n.mu.Lock()
	pd := n.pendingDecision
	if pd == nil || pd.TransactionID != txID || pd.generation != generation {
		n.mu.Unlock()
		return
	}
	n.pendingDecision = nil
	delete(n.state.prepared, txID)
	delete(n.state.waited, txID)
	n.state.aborted[txID] = true
	n.mu.Unlock()

	xlog.Recoveryf("transaction %s: abort ack timed out, auto-aborting locally", txID)
	n.audit.Enqueue(audit.Record{Kind: "auto_ack_abort", NodeID: n.id, TransactionID: txID, Status: "ABORTED", OccurredAt: time.Now().Unix()})
	n.sendDelayedAck(txID, protocol.AckAbort)
}

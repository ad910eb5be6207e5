package coordinator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"threepc/internal/audit"
	"threepc/internal/protocol"
	"threepc/internal/xlog"
)

// voteWait and ackWait are the per-phase collection bounds: up to 60
// seconds, polled every second, with progress logged every 5. They
// are vars, not consts, so tests can shorten them.
var (
	voteWait   = 60 * time.Second
	ackWait    = 60 * time.Second
	pollTick   = 1 * time.Second
	progressEv = 5 * time.Second
)

func newTransactionID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}

// ExecuteTransaction drives a transaction through CanCommit -> PreCommit ->
// DoCommit (or the Abort phase). It returns the final committed/aborted
// outcome once the driver concludes, or false immediately if the
// coordinator is crashed or has no registered participants.
func (n *Node) ExecuteTransaction(data map[string]string) bool {
	if n.Crashed() {
		xlog.Protocolf("coordinator crashed, refusing new transaction")
		return false
	}

	participants := n.snapshotParticipantIDs()
	if len(participants) == 0 {
		xlog.Warnf("execute_transaction: no registered participants")
		return false
	}

	txID := newTransactionID()
	tx := newTransactionRecord(txID, data, participants)
	n.mu.Lock()
	n.transactions[txID] = tx
	n.mu.Unlock()
	xlog.Protocolf("transaction %s: started with %d participants, data=%v", txID, len(participants), data)

	votesC, crashed := n.collectVotes(tx, protocol.CanCommit, tx.VotesC, "CanCommit")
	if crashed {
		return false
	}
	n.setStatus(tx, StatusWaited)
	xlog.Protocolf("transaction %s: CanCommit result %v", tx.ID, votesC)
	if !allYes(votesC) {
		return n.runAbort(tx, protocol.CanCommitAbort)
	}

	n.setStatus(tx, StatusPreparing)
	votesP, crashed := n.collectVotes(tx, protocol.PreCommit, tx.VotesP, "PreCommit")
	if crashed {
		return false
	}
	n.setStatus(tx, StatusPrepared)
	xlog.Protocolf("transaction %s: PreCommit result %v", tx.ID, votesP)
	if !allYes(votesP) {
		return n.runAbort(tx, protocol.PreCommitAbort)
	}

	if n.Crashed() {
		xlog.Recoveryf("transaction %s: crash observed before DoCommit", tx.ID)
		return false
	}
	return n.runDoCommit(tx)
}

func allYes(votes map[string]bool) bool {
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes {
		if !v {
			return false
		}
	}
	return true
}

// collectVotes sends tag to every participant in tx's snapshot, folds any
// synchronous replies, then waits up to voteWait for the remaining votes to
// arrive as delayed VOTE_RESPONSE frames. A participant with no vote by the
// deadline is counted NO. votes is the live tx.VotesC or tx.VotesP map,
// shared with the inbound delayed-vote handler.
func (n *Node) collectVotes(tx *TransactionRecord, tag protocol.MessageTag, votes map[string]bool, label string) (map[string]bool, bool) {
	msg := protocol.New(tag, tx.ID, protocol.StringMapToData(tx.Data))

	for _, pid := range tx.Participants {
		if n.Crashed() {
			xlog.Recoveryf("transaction %s: crash observed before sending %s to %s", tx.ID, tag, pid)
			return nil, true
		}
		xlog.Protocolf("transaction %s: -> %s to %s", tx.ID, tag, pid)
		if resp := n.sendMessage(pid, msg, false); resp != nil {
			n.foldVoteReply(tx, pid, resp)
		}
	}

	deadline := time.Now().Add(voteWait)
	lastLog := time.Now()
	for time.Now().Before(deadline) {
		if n.Crashed() {
			xlog.Recoveryf("transaction %s: crash observed while collecting %s votes", tx.ID, label)
			return nil, true
		}
		n.mu.Lock()
		got := len(votes)
		n.mu.Unlock()
		if got >= len(tx.Participants) {
			break
		}
		if time.Since(lastLog) >= progressEv {
			xlog.Protocolf("transaction %s: %s votes %d/%d", tx.ID, label, got, len(tx.Participants))
			lastLog = time.Now()
		}
		time.Sleep(pollTick)
	}

	n.mu.Lock()
	for _, pid := range tx.Participants {
		if _, ok := votes[pid]; !ok {
			votes[pid] = false
			xlog.Protocolf("transaction %s: %s vote missing from %s, counted NO", tx.ID, label, pid)
		}
	}
	result := cloneBoolMap(votes)
	n.mu.Unlock()
	return result, false
}

// foldVoteReply folds an immediate or delayed vote reply into the
// transaction's CanCommit/PreCommit tally by the reply's own tag.
func (n *Node) foldVoteReply(tx *TransactionRecord, participantID string, resp *protocol.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch resp.MsgType {
	case protocol.CanCommitVoteYes:
		tx.VotesC[participantID] = true
	case protocol.CanCommitVoteNo:
		tx.VotesC[participantID] = false
	case protocol.PreCommitVoteYes:
		tx.VotesP[participantID] = true
	case protocol.PreCommitVoteNo:
		tx.VotesP[participantID] = false
	}
}

// DeliverVote folds a delayed VOTE_RESPONSE admin frame into the referenced
// transaction's vote tally, if the transaction is still known.
func (n *Node) DeliverVote(participantID string, msg *protocol.Message) {
	n.mu.Lock()
	tx, ok := n.transactions[msg.TransactionID]
	n.mu.Unlock()
	if !ok {
		xlog.Warnf("delayed vote from %s for unknown transaction %s", participantID, msg.TransactionID)
		return
	}
	n.foldVoteReply(tx, participantID, msg)
	xlog.Protocolf("transaction %s: <- delayed vote %s from %s", msg.TransactionID, msg.MsgType, participantID)
}

// DeliverAck folds a delayed ACK_RESPONSE admin frame into the referenced
// transaction's ack tally.
func (n *Node) DeliverAck(participantID string, msg *protocol.Message) {
	n.mu.Lock()
	tx, ok := n.transactions[msg.TransactionID]
	n.mu.Unlock()
	if !ok {
		xlog.Warnf("delayed ack from %s for unknown transaction %s", participantID, msg.TransactionID)
		return
	}
	n.mu.Lock()
	if tx.Acks == nil {
		tx.Acks = make(map[string]string)
	}
	tx.Acks[participantID] = string(msg.MsgType)
	n.mu.Unlock()
	xlog.Protocolf("transaction %s: <- delayed ack %s from %s", msg.TransactionID, msg.MsgType, participantID)
}

// collectAcks sends sendTag to every id in participants, folds immediate
// ACK replies, then waits up to ackWait for delayed ACK_RESPONSE frames.
// A participant that never ACKs is recorded as TIMEOUT.
func (n *Node) collectAcks(tx *TransactionRecord, participants []string, sendTag protocol.MessageTag) (map[string]string, bool) {
	msg := protocol.New(sendTag, tx.ID, protocol.StringMapToData(tx.Data))

	n.mu.Lock()
	tx.Acks = make(map[string]string)
	acks := tx.Acks
	n.mu.Unlock()

	for _, pid := range participants {
		if n.Crashed() {
			xlog.Recoveryf("transaction %s: crash observed before sending %s to %s", tx.ID, sendTag, pid)
			return nil, true
		}
		xlog.Protocolf("transaction %s: -> %s to %s", tx.ID, sendTag, pid)
		if resp := n.sendMessage(pid, msg, false); resp != nil {
			if resp.MsgType == protocol.AckCommit || resp.MsgType == protocol.AckAbort {
				n.mu.Lock()
				acks[pid] = string(resp.MsgType)
				n.mu.Unlock()
			}
		}
	}

	deadline := time.Now().Add(ackWait)
	lastLog := time.Now()
	for time.Now().Before(deadline) {
		if n.Crashed() {
			xlog.Recoveryf("transaction %s: crash observed while collecting ACKs", tx.ID)
			return nil, true
		}
		n.mu.Lock()
		got := len(acks)
		n.mu.Unlock()
		if got >= len(participants) {
			break
		}
		if time.Since(lastLog) >= progressEv {
			xlog.Protocolf("transaction %s: ACKs %d/%d", tx.ID, got, len(participants))
			lastLog = time.Now()
		}
		time.Sleep(pollTick)
	}

	n.mu.Lock()
	for _, pid := range participants {
		if _, ok := acks[pid]; !ok {
			acks[pid] = "TIMEOUT"
			xlog.Protocolf("transaction %s: ACK timeout from %s", tx.ID, pid)
		}
	}
	result := cloneStringMap(acks)
	n.mu.Unlock()
	return result, false
}

// runAbort sends abortTag to every snapshot participant, collects ACK_ABORT,
// appends an ABORTED history entry, and always returns false.
func (n *Node) runAbort(tx *TransactionRecord, abortTag protocol.MessageTag) bool {
	n.setStatus(tx, StatusAborting)
	_, crashed := n.collectAcks(tx, tx.Participants, abortTag)
	if crashed {
		return false
	}
	n.appendHistory(tx, StatusAborted)
	n.setStatus(tx, StatusAborted)
	xlog.Protocolf("transaction %s: aborted", tx.ID)
	return false
}

// runDoCommit sends COMMIT to every snapshot participant and collects
// ACK_COMMIT. Any missing or non-ACK_COMMIT reply down-codes the outcome to
// ABORTED in history — this asymmetry is intentional, not a bug: a
// participant that never confirms committing cannot be assumed committed.
func (n *Node) runDoCommit(tx *TransactionRecord) bool {
	n.setStatus(tx, StatusCommitting)
	acks, crashed := n.collectAcks(tx, tx.Participants, protocol.Commit)
	if crashed {
		return false
	}

	allCommitted := true
	for _, pid := range tx.Participants {
		if acks[pid] != string(protocol.AckCommit) {
			allCommitted = false
			break
		}
	}

	if allCommitted {
		n.appendHistory(tx, StatusCommitted)
		n.setStatus(tx, StatusCommitted)
		xlog.Protocolf("transaction %s: committed", tx.ID)
		return true
	}

	n.appendHistory(tx, StatusAborted)
	n.setStatus(tx, StatusAborted)
	xlog.Protocolf("transaction %s: aborted at commit phase (missing ACK_COMMIT down-codes to ABORTED)", tx.ID)
	return false
}

func (n *Node) setStatus(tx *TransactionRecord, status TxStatus) {
	n.mu.Lock()
	tx.Status = status
	n.mu.Unlock()
}

func (n *Node) appendHistory(tx *TransactionRecord, status TxStatus) {
	data := cloneStringMap(tx.Data)
	entry := HistoryEntry{TransactionID: tx.ID, Status: status, Data: data, Timestamp: time.Now().Unix()}
	n.mu.Lock()
	n.history = append(n.history, entry)
	n.mu.Unlock()
	n.audit.Enqueue(audit.Record{
		Kind: "history", TransactionID: tx.ID, Status: string(status), Data: data,
		OccurredAt: entry.Timestamp,
	})
}

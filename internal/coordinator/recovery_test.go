package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threepc/internal/protocol"
)

func stateReporter(status string) func(*protocol.Message) *protocol.Message {
	return func(msg *protocol.Message) *protocol.Message {
		switch msg.MsgType {
		case protocol.QueryState:
			return protocol.New(protocol.StateResponse, msg.TransactionID,
				map[string]interface{}{"status": status})
		case protocol.Commit:
			return protocol.New(protocol.AckCommit, msg.TransactionID, nil)
		default:
			return protocol.New(protocol.AckAbort, msg.TransactionID, nil)
		}
	}
}

func (n *Node) insertStuckTransaction(id string, status TxStatus, participants []string) *TransactionRecord {
	tx := newTransactionRecord(id, map[string]string{"key": "value"}, participants)
	tx.Status = status
	n.mu.Lock()
	n.transactions[id] = tx
	n.mu.Unlock()
	return tx
}

// TestRecoverCompletesCommitWhenCommittingAlready exercises §4.3 step 3's
// "Commit phases: always complete_commit" rule.
func TestRecoverCompletesCommitWhenCommittingAlready(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	p := startFakeParticipant(t, stateReporter("COMMITTED"))
	h, port := p.addr()
	n.Register("p1", h, port)
	n.insertStuckTransaction("tx1", StatusCommitting, []string{"p1"})
	n.Crash()

	n.Recover()

	assert.False(t, n.Crashed())
	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusCommitted, hist[0].Status)
}

// TestRecoverCompletesCommitWhenVotesCCompleteAndUnanimous exercises the
// PREPARING/PREPARED bucket's commit condition: votesC complete and all-YES.
func TestRecoverCompletesCommitWhenVotesCCompleteAndUnanimous(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	p1 := startFakeParticipant(t, stateReporter("PREPARED"))
	p2 := startFakeParticipant(t, stateReporter("PREPARED"))
	h1, port1 := p1.addr()
	h2, port2 := p2.addr()
	n.Register("p1", h1, port1)
	n.Register("p2", h2, port2)
	tx := n.insertStuckTransaction("tx1", StatusPrepared, []string{"p1", "p2"})
	tx.VotesC["p1"] = true
	tx.VotesC["p2"] = true
	n.Crash()

	n.Recover()

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusCommitted, hist[0].Status)
}

// TestRecoverAbortsWhenVotesCIncomplete exercises the PREPARING/PREPARED
// bucket's fallback: an incomplete votesC resolves to abort even though the
// transaction had already reached PREPARED.
func TestRecoverAbortsWhenVotesCIncomplete(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	p := startFakeParticipant(t, stateReporter("PREPARED"))
	h, port := p.addr()
	n.Register("p1", h, port)
	n.insertStuckTransaction("tx1", StatusPrepared, []string{"p1"})
	n.Crash()

	n.Recover()

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusAborted, hist[0].Status)
}

// TestRecoverAbortsPreVotePhases exercises §4.3 step 3's "Pre-vote phases:
// send ABORT" rule, which applies unconditionally regardless of what
// participants report.
func TestRecoverAbortsPreVotePhases(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	n.insertStuckTransaction("tx1", StatusWaiting, nil)
	n.Crash()

	n.Recover()

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusAborted, hist[0].Status)
}

func TestRecoverLeavesTerminalTransactionsAlone(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	n.insertStuckTransaction("tx1", StatusCommitted, []string{"p1"})
	n.Crash()

	n.Recover()

	assert.Empty(t, n.History())
}

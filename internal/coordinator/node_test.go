package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threepc/internal/protocol"
)

// fakeParticipant is a minimal one-shot TCP responder standing in for a real
// participant node, so coordinator tests exercise the real wire protocol.
type fakeParticipant struct {
	ln net.Listener
	on func(*protocol.Message) *protocol.Message
}

func startFakeParticipant(t *testing.T, on func(*protocol.Message) *protocol.Message) *fakeParticipant {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fp := &fakeParticipant{ln: ln, on: on}
	go fp.serve()
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakeParticipant) serve() {
	for {
		conn, err := fp.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			buf := make([]byte, protocol.DefaultRecvSize)
			n, err := conn.Read(buf)
			if err != nil && n == 0 {
				return
			}
			msg, err := protocol.Decode(buf[:n])
			if err != nil {
				return
			}
			reply := fp.on(msg)
			if reply == nil {
				return
			}
			payload, err := reply.Encode()
			if err != nil {
				return
			}
			conn.Write(payload)
		}()
	}
}

func (fp *fakeParticipant) addr() (string, int) {
	tcpAddr := fp.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port
}

func alwaysYes(msg *protocol.Message) *protocol.Message {
	switch msg.MsgType {
	case protocol.CanCommit:
		return protocol.New(protocol.CanCommitVoteYes, msg.TransactionID, nil)
	case protocol.PreCommit:
		return protocol.New(protocol.PreCommitVoteYes, msg.TransactionID, nil)
	case protocol.Commit:
		return protocol.New(protocol.AckCommit, msg.TransactionID, nil)
	default:
		return protocol.New(protocol.AckAbort, msg.TransactionID, nil)
	}
}

func TestExecuteTransactionCommitsWhenAllVoteYes(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	p1 := startFakeParticipant(t, alwaysYes)
	p2 := startFakeParticipant(t, alwaysYes)
	h1, port1 := p1.addr()
	h2, port2 := p2.addr()
	n.Register("p1", h1, port1)
	n.Register("p2", h2, port2)

	ok := n.ExecuteTransaction(map[string]string{"key": "value"})
	assert.True(t, ok)

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusCommitted, hist[0].Status)
}

func TestExecuteTransactionAbortsOnNoVote(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	yes := startFakeParticipant(t, alwaysYes)
	no := startFakeParticipant(t, func(msg *protocol.Message) *protocol.Message {
		if msg.MsgType == protocol.CanCommit {
			return protocol.New(protocol.CanCommitVoteNo, msg.TransactionID, nil)
		}
		return alwaysYes(msg)
	})
	hy, py := yes.addr()
	hn, pn := no.addr()
	n.Register("yes", hy, py)
	n.Register("no", hn, pn)

	ok := n.ExecuteTransaction(map[string]string{"key": "value"})
	assert.False(t, ok)

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusAborted, hist[0].Status)
}

func TestExecuteTransactionDownCodesMissingCommitAck(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	flaky := startFakeParticipant(t, func(msg *protocol.Message) *protocol.Message {
		if msg.MsgType == protocol.Commit {
			return nil // no synchronous ack, and this fake never sends a delayed one either
		}
		return alwaysYes(msg)
	})
	h, port := flaky.addr()
	n.Register("flaky", h, port)

	oldAckWait := ackWait
	ackWait = 2 * time.Second
	defer func() { ackWait = oldAckWait }()

	ok := n.ExecuteTransaction(map[string]string{"key": "value"})
	assert.False(t, ok)

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusAborted, hist[0].Status)
}

func TestExecuteTransactionRefusedWhenCrashed(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	n.Register("p1", "127.0.0.1", 1)
	assert.True(t, n.Crash())
	assert.False(t, n.Crash()) // already crashed, not a fresh transition

	ok := n.ExecuteTransaction(map[string]string{"key": "value"})
	assert.False(t, ok)
	assert.Empty(t, n.History())
}

func TestExecuteTransactionNoParticipants(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	ok := n.ExecuteTransaction(map[string]string{"key": "value"})
	assert.False(t, ok)
}

func TestRegisterIsIdempotentAndOrdered(t *testing.T) {
	n := NewNode("127.0.0.1:0")
	n.Register("p1", "127.0.0.1", 10)
	n.Register("p2", "127.0.0.1", 11)
	n.Register("p1", "127.0.0.1", 12) // re-register with a new port

	ids := n.snapshotParticipantIDs()
	assert.Equal(t, []string{"p1", "p2"}, ids)

	reg, ok := n.lookupParticipant("p1")
	require.True(t, ok)
	assert.Equal(t, 12, reg.Port)
}

package participant

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threepc/internal/protocol"
)

// fakeCoordinator is a minimal one-shot admin-frame responder standing in
// for the real coordinator, so participant tests exercise the real wire
// protocol for REGISTER/HISTORY_REQUEST and observe outbound VOTE_RESPONSE/
// ACK_RESPONSE frames.
type fakeCoordinator struct {
	ln       net.Listener
	received chan string
	history  []map[string]interface{}
}

func startFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fc := &fakeCoordinator{ln: ln, received: make(chan string, 32)}
	go fc.serve()
	t.Cleanup(func() { ln.Close() })
	return fc
}

func (fc *fakeCoordinator) serve() {
	for {
		conn, err := fc.ln.Accept()
		if err != nil {
			return
		}
		go fc.handle(conn)
	}
}

func (fc *fakeCoordinator) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, protocol.HistoryRecvSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return
	}
	line := string(buf[:n])
	fc.received <- line

	tag := protocol.FrameTag(line)
	switch tag {
	case protocol.FrameRegister:
		conn.Write([]byte("OK"))
	case protocol.FrameHistoryRequest:
		resp := protocol.New(protocol.HistoryResponse, "", map[string]interface{}{"history": fc.history})
		payload, _ := resp.Encode()
		conn.Write(payload)
	default:
		// VOTE_RESPONSE / ACK_RESPONSE are fire-and-forget; no reply expected.
	}
}

func (fc *fakeCoordinator) addr() string {
	return fc.ln.Addr().String()
}

func newTestNode(t *testing.T, coordAddr string) *Node {
	t.Helper()
	return NewNode("p1", "127.0.0.1", 0, coordAddr)
}

func TestHandleCanCommitParksVoteAndRespondsEmpty(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	reply := n.handleMessage(protocol.New(protocol.CanCommit, "tx1", map[string]interface{}{"key": "v"}))
	assert.Nil(t, reply)

	txID, ok := n.VoteCanCommit(true)
	require.True(t, ok)
	assert.Equal(t, "tx1", txID)
	assert.Equal(t, StatusWaited, n.Status("tx1"))

	select {
	case line := <-fc.received:
		assert.Equal(t, protocol.FrameVoteResponse, protocol.FrameTag(line))
	case <-time.After(time.Second):
		t.Fatal("expected delayed VOTE_RESPONSE frame")
	}
}

func TestHandlePreCommitMovesWaitedToPrepared(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.handleMessage(protocol.New(protocol.CanCommit, "tx1", nil))
	n.VoteCanCommit(true)
	<-fc.received

	n.handleMessage(protocol.New(protocol.PreCommit, "tx1", nil))
	txID, ok := n.VotePreCommit(true)
	require.True(t, ok)
	assert.Equal(t, "tx1", txID)
	assert.Equal(t, StatusPrepared, n.Status("tx1"))
	<-fc.received
}

func TestHandleCommitRejectsNonPreparedTransaction(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	reply := n.handleMessage(protocol.New(protocol.Commit, "tx-unknown", map[string]interface{}{"key": "v"}))
	require.NotNil(t, reply)
	assert.Equal(t, protocol.AckAbort, reply.MsgType)
}

func TestHandleCommitParksDecisionAndAckCommitApplies(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.prepared["tx1"] = true
	n.mu.Unlock()

	reply := n.handleMessage(protocol.New(protocol.Commit, "tx1", map[string]interface{}{"key": "v"}))
	assert.Nil(t, reply)

	txID, ok := n.AckCommit()
	require.True(t, ok)
	assert.Equal(t, "tx1", txID)
	assert.Equal(t, StatusCommitted, n.Status("tx1"))

	select {
	case line := <-fc.received:
		assert.Equal(t, protocol.FrameAckResponse, protocol.FrameTag(line))
	case <-time.After(time.Second):
		t.Fatal("expected delayed ACK_RESPONSE frame")
	}
}

func TestAckAbortAppliesEvenWhenDecisionWasCommit(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.prepared["tx1"] = true
	n.mu.Unlock()
	n.handleMessage(protocol.New(protocol.Commit, "tx1", map[string]interface{}{"key": "v"}))

	txID, ok := n.AckAbort()
	require.True(t, ok)
	assert.Equal(t, "tx1", txID)
	assert.Equal(t, StatusAborted, n.Status("tx1"))
	<-fc.received
}

func TestAckCommitRefusedWhenPendingDecisionIsAbort(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.handleMessage(protocol.New(protocol.Abort, "tx1", nil))
	_, ok := n.AckCommit()
	assert.False(t, ok)

	txID, ok := n.AckAbort()
	require.True(t, ok)
	assert.Equal(t, "tx1", txID)
	<-fc.received
}

func TestDuplicateCommitIsIdempotent(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.committed["tx1"] = map[string]string{"key": "v"}
	n.mu.Unlock()

	reply := n.handleMessage(protocol.New(protocol.Commit, "tx1", map[string]interface{}{"key": "v"}))
	require.NotNil(t, reply)
	assert.Equal(t, protocol.AckCommit, reply.MsgType)
}

func TestQueryStateReportsPrecedence(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.waited["tx1"] = true
	n.state.prepared["tx1"] = true
	n.mu.Unlock()

	reply := n.handleMessage(protocol.New(protocol.QueryState, "tx1", nil))
	require.NotNil(t, reply)
	assert.Equal(t, protocol.StateResponse, reply.MsgType)
	assert.Equal(t, "PREPARED", reply.DataAsStrings()["status"])
}

func TestInjectedFailureSynthesizesNoVote(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())
	n.SetFailureRate(1.0)

	reply := n.handleMessage(protocol.New(protocol.CanCommit, "tx1", nil))
	require.NotNil(t, reply)
	assert.Equal(t, protocol.CanCommitVoteNo, reply.MsgType)
	_, ok := n.VoteCanCommit(true)
	assert.False(t, ok, "no vote should be parked under injected failure")
}

func TestVoteTimeoutAutoVotesNo(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	oldVoteTimeout := voteTimeout
	voteTimeout = 50 * time.Millisecond
	defer func() { voteTimeout = oldVoteTimeout }()

	n.handleMessage(protocol.New(protocol.CanCommit, "tx1", nil))

	select {
	case line := <-fc.received:
		assert.Equal(t, protocol.FrameVoteResponse, protocol.FrameTag(line))
		df, err := protocol.ParseDelayedFrame(line)
		require.NoError(t, err)
		assert.Equal(t, protocol.CanCommitVoteNo, df.Message.MsgType)
	case <-time.After(time.Second):
		t.Fatal("expected auto-vote-NO timeout frame")
	}
	_, ok := n.VoteCanCommit(true)
	assert.False(t, ok, "pending vote should be cleared by the timeout")
}

func TestCommitAckTimeoutAutoCommits(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	oldCommitTimeout := commitTimeout
	commitTimeout = 50 * time.Millisecond
	defer func() { commitTimeout = oldCommitTimeout }()

	n.mu.Lock()
	n.state.prepared["tx1"] = true
	n.mu.Unlock()
	n.handleMessage(protocol.New(protocol.Commit, "tx1", map[string]interface{}{"key": "v"}))

	select {
	case line := <-fc.received:
		assert.Equal(t, protocol.FrameAckResponse, protocol.FrameTag(line))
	case <-time.After(time.Second):
		t.Fatal("expected auto-ack-commit timeout frame")
	}
	assert.Equal(t, StatusCommitted, n.Status("tx1"))
}

func TestCrashedNodeDropsInboundMessages(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())
	require.NoError(t, n.Start())
	defer n.Stop()

	assert.True(t, n.Crash())

	port := n.listener.Addr().(*net.TCPAddr).Port
	msg := protocol.New(protocol.CanCommit, "tx1", nil)
	payload, err := msg.Encode()
	require.NoError(t, err)
	buf := make([]byte, protocol.DefaultRecvSize)
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	require.NoError(t, err)
	conn.Write(payload)
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	nRead, _ := conn.Read(buf)
	conn.Close()
	assert.Equal(t, 0, nRead, "crashed participant must not reply")
}

package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverReplaysHistoryAndClearsCrashed(t *testing.T) {
	fc := startFakeCoordinator(t)
	fc.history = []map[string]interface{}{
		{"transaction_id": "tx1", "status": "COMMITTED", "data": map[string]interface{}{"key": "v"}, "timestamp": int64(1)},
		{"transaction_id": "tx2", "status": "ABORTED", "data": map[string]interface{}{}, "timestamp": int64(2)},
	}
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.prepared["tx1"] = true
	n.state.prepared["tx2"] = true
	n.crashed = true
	n.mu.Unlock()

	err := n.Recover()
	require.NoError(t, err)

	assert.False(t, n.Crashed())
	assert.Equal(t, StatusCommitted, n.Status("tx1"))
	assert.Equal(t, StatusAborted, n.Status("tx2"))

	<-fc.received // REGISTER
	<-fc.received // HISTORY_REQUEST
}

func TestRecoverLeavesWaitedSetAlone(t *testing.T) {
	fc := startFakeCoordinator(t)
	n := newTestNode(t, fc.addr())

	n.mu.Lock()
	n.state.waited["tx1"] = true
	n.crashed = true
	n.mu.Unlock()

	err := n.Recover()
	require.NoError(t, err)

	assert.Equal(t, StatusWaited, n.Status("tx1"), "waited membership is not touched by history replay")
}

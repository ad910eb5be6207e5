package participant

import (
	"threepc/internal/protocol"
	"threepc/internal/xlog"
)

// Recover re-registers with the coordinator, pulls the full history via
// HISTORY_REQUEST, and replays it. The waited set and
// any pending_vote/pending_decision are intentionally left untouched — the
// coordinator will resend, or its own recovery will classify the
// transaction. Replaying the same history twice is a no-op the second time,
// since every entry just reasserts committed/aborted membership.
func (n *Node) Recover() error {
	if err := n.sendRegister(); err != nil {
		return err
	}
	resp, err := n.requestHistory()
	if err != nil {
		xlog.Warnf("participant %s: history request during recovery failed: %v", n.id, err)
		return err
	}
	n.applyHistory(resp)

	n.mu.Lock()
	n.crashed = false
	n.mu.Unlock()
	if n.health != nil {
		n.health.SetRecovered()
	}
	xlog.Recoveryf("participant %s: recovery complete", n.id)
	return nil
}

func (n *Node) applyHistory(resp *protocol.Message) {
	raw, ok := resp.Data["history"]
	if !ok {
		return
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		txID, _ := entry["transaction_id"].(string)
		status, _ := entry["status"].(string)
		if txID == "" {
			continue
		}
		data := dataFieldToStrings(entry["data"])
		switch status {
		case "COMMITTED":
			delete(n.state.prepared, txID)
			n.state.committed[txID] = data
		case "ABORTED":
			delete(n.state.prepared, txID)
			n.state.aborted[txID] = true
		}
	}
}

func dataFieldToStrings(v interface{}) map[string]string {
	out := make(map[string]string)
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

package coordinator

import (
	"threepc/internal/protocol"
	"threepc/internal/transport"
	"threepc/internal/xlog"
)

// sendMessage performs the one-shot TCP exchange to a single participant:
// dial, write, read, close. A network error, an unknown participant, or a
// refused send because the coordinator is crashed are all logged and folded
// into a nil response — "no synchronous reply", which the driver treats as
// "the vote/ack will arrive later as a delayed frame". force bypasses the
// crash gate, used only by recovery's QUERY_STATE probes.
func (n *Node) sendMessage(participantID string, msg *protocol.Message, force bool) *protocol.Message {
	reg, ok := n.lookupParticipant(participantID)
	if !ok {
		xlog.Warnf("send to unknown participant %s", participantID)
		return nil
	}
	if n.Crashed() && !force {
		xlog.Warnf("coordinator crashed, refusing to send %s to %s", msg.MsgType, participantID)
		return nil
	}

	payload, err := msg.Encode()
	if err != nil {
		xlog.Warnf("encode %s for %s: %v", msg.MsgType, participantID, err)
		return nil
	}

	buf := make([]byte, protocol.DefaultRecvSize)
	resp, err := transport.Exchange(reg.Addr(), payload, buf)
	if err != nil {
		xlog.Warnf("send %s to %s failed: %v", msg.MsgType, participantID, err)
		return nil
	}
	if len(resp) == 0 {
		return nil
	}
	out, err := protocol.Decode(resp)
	if err != nil {
		xlog.Warnf("decode reply from %s: %v", participantID, err)
		return nil
	}
	return out
}

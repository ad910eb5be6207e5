package participant

import (
	"threepc/internal/protocol"
	"threepc/internal/transport"
	"threepc/internal/xlog"
)

// sendRegister sends the REGISTER admin frame to the coordinator and waits
// for the literal "OK" reply.
func (n *Node) sendRegister() error {
	line := protocol.BuildRegisterFrame(n.id, n.host, n.port)
	buf := make([]byte, protocol.DefaultRecvSize)
	resp, err := transport.Exchange(n.coordinatorAddr, []byte(line), buf)
	if err != nil {
		xlog.Warnf("register with coordinator %s: %v", n.coordinatorAddr, err)
		return err
	}
	xlog.Protocolf("registered with coordinator %s, reply %q", n.coordinatorAddr, string(resp))
	return nil
}

// sendDelayedVote opens a new connection to the coordinator carrying the
// vote as a VOTE_RESPONSE admin frame, the "delayed response" pattern used
// when a vote arrives after the coordinator's synchronous collection window
// has already closed.
func (n *Node) sendDelayedVote(txID string, tag protocol.MessageTag) {
	n.sendDelayedFrame(protocol.FrameVoteResponse, protocol.New(tag, txID, nil))
}

// sendDelayedAck opens a new connection to the coordinator carrying the ack
// as an ACK_RESPONSE admin frame.
func (n *Node) sendDelayedAck(txID string, tag protocol.MessageTag) {
	n.sendDelayedFrame(protocol.FrameAckResponse, protocol.New(tag, txID, nil))
}

func (n *Node) sendDelayedFrame(frameTag string, msg *protocol.Message) {
	line, err := protocol.BuildDelayedFrame(frameTag, n.id, msg)
	if err != nil {
		xlog.Warnf("encode %s frame: %v", frameTag, err)
		return
	}
	if err := transport.Send(n.coordinatorAddr, []byte(line)); err != nil {
		xlog.Warnf("send %s frame to coordinator: %v", frameTag, err)
	}
}

// requestHistory opens a connection to the coordinator, sends a
// HISTORY_REQUEST admin frame, and reads back the HISTORY_RESPONSE message
// synchronously on that same connection.
func (n *Node) requestHistory() (*protocol.Message, error) {
	line, err := protocol.BuildDelayedFrame(protocol.FrameHistoryRequest, n.id, protocol.New("", "", nil))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, protocol.HistoryRecvSize)
	resp, err := transport.Exchange(n.coordinatorAddr, []byte(line), buf)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(resp)
}

package coordinator

import (
	"net"
	"strings"

	"threepc/internal/protocol"
	"threepc/internal/transport"
	"threepc/internal/xlog"
)

func listenTCP(addr string) (*net.TCPListener, error) {
	return transport.ListenTCP(addr)
}

func (n *Node) serve() {
	transport.Serve(n.listener, n.stop, n.handleConn)
}

// handleConn dispatches one inbound admin frame. While crashed, the
// coordinator answers only REGISTER and HISTORY_REQUEST —
// VOTE_RESPONSE and ACK_RESPONSE are dropped, matching the crash gate
// enforced on the outbound side by sendMessage.
func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	raw, err := transport.ReadRequest(conn, protocol.HistoryRecvSize)
	if err != nil {
		xlog.Warnf("read request: %v", err)
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}

	tag := protocol.FrameTag(line)
	if n.Crashed() && tag != protocol.FrameRegister && tag != protocol.FrameHistoryRequest {
		xlog.Warnf("coordinator crashed, dropping inbound %s frame", tag)
		return
	}

	switch tag {
	case protocol.FrameRegister:
		rf, err := protocol.ParseRegisterFrame(line)
		if err != nil {
			xlog.Warnf("bad REGISTER frame: %v", err)
			return
		}
		n.Register(rf.ParticipantID, rf.Host, rf.Port)
		if _, err := conn.Write([]byte("OK")); err != nil {
			xlog.Warnf("write REGISTER reply: %v", err)
		}

	case protocol.FrameVoteResponse:
		df, err := protocol.ParseDelayedFrame(line)
		if err != nil || df.Message == nil {
			xlog.Warnf("bad VOTE_RESPONSE frame: %v", err)
			return
		}
		n.DeliverVote(df.ParticipantID, df.Message)

	case protocol.FrameAckResponse:
		df, err := protocol.ParseDelayedFrame(line)
		if err != nil || df.Message == nil {
			xlog.Warnf("bad ACK_RESPONSE frame: %v", err)
			return
		}
		n.DeliverAck(df.ParticipantID, df.Message)

	case protocol.FrameHistoryRequest:
		df, err := protocol.ParseDelayedFrame(line)
		if err != nil {
			xlog.Warnf("bad HISTORY_REQUEST frame: %v", err)
			return
		}
		resp := buildHistoryResponse(n.History())
		payload, err := resp.Encode()
		if err != nil {
			xlog.Warnf("encode history response: %v", err)
			return
		}
		if _, err := conn.Write(payload); err != nil {
			xlog.Warnf("write history response to %s: %v", df.ParticipantID, err)
		}

	default:
		xlog.Warnf("unrecognized inbound frame: %q", line)
	}
}

func buildHistoryResponse(history []HistoryEntry) *protocol.Message {
	entries := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		entries = append(entries, map[string]interface{}{
			"transaction_id": h.TransactionID,
			"status":         string(h.Status),
			"data":           h.Data,
			"timestamp":      h.Timestamp,
		})
	}
	return protocol.New(protocol.HistoryResponse, "", map[string]interface{}{"history": entries})
}

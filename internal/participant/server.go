package participant

import (
	"net"

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

// handleConn reads one inbound JSON protocol message and dispatches it.
// While crashed, the payload is read and discarded without a reply.
func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	raw, err := transport.ReadRequest(conn, protocol.DefaultRecvSize)
	if err != nil {
		xlog.Warnf("read request: %v", err)
		return
	}
	if len(raw) == 0 {
		return
	}
	if n.Crashed() {
		xlog.Warnf("participant %s crashed, discarding inbound message", n.id)
		return
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		xlog.Warnf("decode inbound message: %v", err)
		return
	}

	reply := n.handleMessage(msg)
	if reply == nil {
		return
	}
	payload, err := reply.Encode()
	if err != nil {
		xlog.Warnf("encode reply %s: %v", reply.MsgType, err)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		xlog.Warnf("write reply: %v", err)
	}
}

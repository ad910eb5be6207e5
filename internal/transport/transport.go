// Package transport holds the one-shot TCP exchange and accept-loop helpers
// shared by the coordinator and participant servers. Every protocol
// connection is request/response: the sender writes once, reads once, and
// closes; the acceptor polls its stop channel with a 1-second accept
// deadline rather than blocking forever.
package transport

import (
	"io"
	"net"
	"time"

	"threepc/internal/xlog"
)

// DialTimeout is the per-exchange socket timeout for outbound protocol
// messages.
const DialTimeout = 5 * time.Second

// Exchange dials addr, writes payload, reads up to len(buf) bytes of reply
// and closes the connection. Returns the reply bytes (possibly empty, which
// signals "no synchronous reply" per the protocol) or an error if the dial,
// deadline setup or write failed, or if the read failed before any byte
// arrived.
func Exchange(addr string, payload []byte, buf []byte) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(DialTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		if n == 0 {
			return nil, err
		}
	}
	return buf[:n], nil
}

// Send dials addr and writes payload without waiting for a reply; used by
// the participant's fire-and-forget delayed vote/ack frames, which open a
// *new* connection rather than reusing the one the original request
// arrived on. HISTORY_REQUEST needs a reply and goes through Exchange.
func Send(addr string, payload []byte) error {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(DialTimeout)); err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

// ListenTCP binds addr with SO_REUSEADDR-equivalent semantics (net's default
// on most platforms for TCP listeners).
func ListenTCP(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenTCP("tcp", tcpAddr)
}

// Serve accepts connections on ln, dispatching each to handle in its own
// goroutine, until stop is closed. The 1-second accept deadline lets the
// loop notice stop without an in-flight Accept blocking forever.
func Serve(ln *net.TCPListener, stop <-chan struct{}, handle func(net.Conn)) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := ln.SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			xlog.Warnf("listener deadline: %v", err)
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
				xlog.Warnf("accept: %v", err)
				continue
			}
		}
		go handle(conn)
	}
}

// ReadRequest reads one inbound frame from conn into a buffer of maxSize
// bytes, returning the bytes actually read. Requests are always small
// (registration lines or single JSON envelopes); the coordinator passes
// protocol.HistoryRecvSize and the participant protocol.DefaultRecvSize.
// History replies are read by Exchange, not here.
func ReadRequest(conn net.Conn, maxSize int) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(DialTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxSize)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		if n == 0 {
			return nil, err
		}
	}
	return buf[:n], nil
}

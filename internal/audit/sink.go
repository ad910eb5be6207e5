// Package audit mirrors terminal transaction outcomes and registrations to
// an external store for operator inspection after the fact. It is strictly
// observational: nothing in the coordinator or participant core reads back
// from a sink, and neither node's own recovery path ever consults one. A
// sink failure is logged and dropped, never propagated to the protocol.
package audit

import (
	"context"
	"time"

	"threepc/internal/xlog"
)

// Record is the denormalized shape mirrored for every history entry the
// coordinator appends, every REGISTER the coordinator accepts, and every
// timeout-driven auto-ack a participant applies.
type Record struct {
	Kind          string // "history" | "register" | "auto_ack_commit" | "auto_ack_abort"
	NodeID        string
	TransactionID string
	Status        string
	Data          map[string]string
	ParticipantID string
	Host          string
	Port          int
	OccurredAt    int64
	MirroredAt    int64
}

// Sink accepts audit records on a best-effort basis.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// NoopSink discards every record; used when no sink is configured.
type NoopSink struct{}

func (NoopSink) Write(context.Context, Record) error { return nil }
func (NoopSink) Close() error                         { return nil }

// Async wraps a Sink with a bounded buffered channel drained by one
// background goroutine, so a slow or unreachable sink never blocks the
// protocol path that produced the record. A full buffer drops the incoming
// record and logs a warning; records already buffered are kept.
type Async struct {
	inner  Sink
	ch     chan Record
	done   chan struct{}
	nodeID string
}

// NewAsync starts the drain goroutine and returns the wrapper.
func NewAsync(inner Sink, nodeID string, bufSize int) *Async {
	a := &Async{inner: inner, ch: make(chan Record, bufSize), done: make(chan struct{}), nodeID: nodeID}
	go a.drain()
	return a
}

func (a *Async) drain() {
	ctx := context.Background()
	for rec := range a.ch {
		rec.MirroredAt = time.Now().Unix()
		if err := a.inner.Write(ctx, rec); err != nil {
			xlog.Warnf("audit sink write failed: %v", err)
		}
	}
	close(a.done)
}

// Enqueue submits rec without blocking; it drops the submission (with a
// warning) if the buffer is full rather than applying backpressure to the
// caller, which is always on the commit/recovery hot path.
func (a *Async) Enqueue(rec Record) {
	rec.NodeID = a.nodeID
	select {
	case a.ch <- rec:
	default:
		xlog.Warnf("audit sink buffer full, dropping record for tx %s", rec.TransactionID)
	}
}

// Close stops accepting new records and waits for the drain goroutine to
// finish flushing what's buffered, then closes the inner sink.
func (a *Async) Close() error {
	close(a.ch)
	<-a.done
	return a.inner.Close()
}

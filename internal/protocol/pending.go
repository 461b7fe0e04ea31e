package protocol

import (
	"context"
	"time"

	"github.com/emrgen/docsync/internal/model"
)

type result[T any] struct {
	value T
	err   error
}

// pendingTable tracks requests waiting for a reply from the relay.
// Every entry is a 1-buffered channel written exactly once while the client's pending lock is held.
type pendingTable struct {
	publishes map[string]chan result[OKMessage]
	changes   chan result[model.ChangesResult]
	lastSeq   chan result[int64]
}

func newPendingTable() pendingTable {
	return pendingTable{
		publishes: make(map[string]chan result[OKMessage]),
	}
}

// await blocks until ch is resolved, the timeout elapses or ctx is done.
// remove drops the pending entry and reports whether it was still registered;
// when it was not, the entry has already been resolved and the value is read from ch.
func await[T any](ctx context.Context, timeout time.Duration, ch chan result[T], remove func() bool) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-timer.C:
		if remove() {
			var zero T
			return zero, ErrTimeout
		}
	case <-ctx.Done():
		if remove() {
			var zero T
			return zero, ctx.Err()
		}
	}

	res := <-ch
	return res.value, res.err
}

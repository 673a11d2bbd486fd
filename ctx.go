package netasio

import (
	"context"
	"time"
)

// doneContext adapts a plain close-to-cancel channel (the idiom this
// package uses for "connection torn down") into a context.Context, so
// it can be passed to BlockingQueue.Wait without every pump needing to
// carry its own context.Context field alongside its done channel.
type doneContext struct {
	done <-chan struct{}
}

func doneCtx(done <-chan struct{}) context.Context {
	return doneContext{done: done}
}

func (doneContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d doneContext) Done() <-chan struct{}     { return d.done }
func (d doneContext) Err() error {
	select {
	case <-d.done:
		return context.Canceled
	default:
		return nil
	}
}
func (doneContext) Value(key any) any { return nil }

package mediator

import (
	"context"
	"errors"
	"sync"
)

type flight struct {
	cancel context.CancelFunc
}

// Latest tracks the most recent in-flight request per key. Starting a
// new request for a key cancels the previous one; the superseded
// request's eventual response must be dropped, not surfaced as an
// error.
type Latest struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

func NewLatest() *Latest {
	return &Latest{inflight: make(map[string]*flight)}
}

// Start registers a request for key, cancelling any prior in-flight
// request with the same key. The returned done func must be called when
// the request finishes; it releases the slot only if the request is
// still the current one.
func (l *Latest) Start(parent context.Context, key string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	f := &flight{cancel: cancel}

	l.mu.Lock()
	if prev, ok := l.inflight[key]; ok {
		prev.cancel()
	}
	l.inflight[key] = f
	l.mu.Unlock()

	done := func() {
		l.mu.Lock()
		if l.inflight[key] == f {
			delete(l.inflight, key)
		}
		l.mu.Unlock()
		cancel()
	}
	return ctx, done
}

// Superseded reports whether err came from a request that was cancelled
// by a newer one and should be ignored.
func Superseded(err error) bool {
	return errors.Is(err, context.Canceled)
}

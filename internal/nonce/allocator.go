// Package nonce issues the strictly increasing integers required by the
// exchange's request signing scheme. Values are reserved in blocks from a
// persisted counter so that no integer is ever issued twice for a given
// credential, even across process restarts; a crash wastes at most one
// unused block.
package nonce

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// BlockSize is the number of nonces reserved per counter increment.
const BlockSize = 10

// CounterStore atomically increments a named persisted counter and
// returns its pre-increment value.
type CounterStore interface {
	IncrementCounter(ctx context.Context, name string, by int64) (int64, error)
}

type refill struct {
	done chan struct{}
	err  error
}

// Allocator hands out nonces from an in-memory window backed by the
// persisted counter. The refill is single-flight: concurrent callers that
// hit an exhausted window await the same counter increment instead of
// issuing parallel ones.
type Allocator struct {
	store   CounterStore
	counter string
	log     zerolog.Logger

	mu       sync.Mutex
	next     int64
	limit    int64
	inFlight *refill
}

// New creates an allocator over the named counter. The counter name is
// derived from the credential so separate keys never share a sequence.
func New(store CounterStore, counter string, log zerolog.Logger) *Allocator {
	return &Allocator{
		store:   store,
		counter: counter,
		log:     log.With().Str("component", "nonce").Str("counter", counter).Logger(),
	}
}

// Next returns the next unused nonce, refilling the window from the
// persisted counter when exhausted. A storage failure is returned to the
// caller, who may retry; the window is left untouched.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	for {
		a.mu.Lock()

		if a.next < a.limit {
			n := a.next
			a.next++
			a.mu.Unlock()
			return n, nil
		}

		if a.inFlight != nil {
			waiting := a.inFlight
			a.mu.Unlock()

			select {
			case <-waiting.done:
				if waiting.err != nil {
					return 0, waiting.err
				}
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			continue
		}

		call := &refill{done: make(chan struct{})}
		a.inFlight = call
		a.mu.Unlock()

		start, err := a.store.IncrementCounter(ctx, a.counter, BlockSize)

		a.mu.Lock()
		if err == nil {
			a.next = start
			a.limit = start + BlockSize
			a.log.Debug().Int64("start", start).Int64("limit", a.limit).Msg("reserved nonce block")
		}
		call.err = err
		a.inFlight = nil
		a.mu.Unlock()

		close(call.done)

		if err != nil {
			return 0, err
		}
	}
}

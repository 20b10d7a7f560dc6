package mavlink

import (
	"context"
	"sync"
)

// hub fans one message stream out to subscribers. Each subscriber buffers
// up to depth values; a slow reader loses the oldest, never the newest.
type hub[T any] struct {
	mu    sync.Mutex
	depth int
	subs  map[chan T]struct{}
}

func newHub[T any](depth int) *hub[T] {
	if depth < 1 {
		depth = 1
	}
	return &hub[T]{depth: depth, subs: make(map[chan T]struct{})}
}

// subscribe registers a channel that is closed when ctx or done ends.
func (h *hub[T]) subscribe(ctx context.Context, done <-chan struct{}, wg *sync.WaitGroup) <-chan T {
	ch := make(chan T, h.depth)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-done:
		}
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
			// full: drop the stale value and retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

package pubsub

import "context"

// Consume calls fn for every value received on ch until ch is closed or ctx
// is done. Sinks use it to drain their subscription on their own goroutine.
func Consume[T any](ctx context.Context, ch <-chan T, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			fn(v)
		}
	}
}

package app

import (
	"context"
	"sync"
	"time"
)

// sinkGroup runs hub consumers that outlive the app context. A sink stops
// when its subscription is closed, so readings buffered at shutdown are
// still forwarded before the broker connection goes away.
type sinkGroup struct {
	wg sync.WaitGroup
}

func (s *sinkGroup) Go(ctx context.Context, run func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(ctx)
	}()
}

// Wait reports whether every sink returned within timeout.
func (s *sinkGroup) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

package worker

import "sync"

// Tasks tracks background side effects so their lifetime extends past the
// response that spawned them. Wait lets shutdown and tests drain pending
// work; abandoned tasks only cost a future cache miss.
type Tasks struct {
	wg sync.WaitGroup
}

// Go runs fn on its own goroutine and tracks it until completion.
func (t *Tasks) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Wait blocks until all tracked tasks have finished.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

package files

import "context"

// workerPool bounds how many uploads touch storage at once. A slot is held
// only for a synchronous step such as a backend write or the entry commit,
// never while an upload waits on its client.
type workerPool struct {
	slots chan struct{}
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{slots: make(chan struct{}, max(size, 1))}
}

// Do runs fn once a slot is free, or returns the context error.
func (p *workerPool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	return fn()
}

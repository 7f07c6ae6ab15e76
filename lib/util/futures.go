package util

import (
	"context"
	"errors"
	"sync"
)

// Futures tracks a set of outstanding operations. Callers register
// operations with Go (or Add and Done) and wait for all of them with
// BlockForPending. The zero value is ready to use.
type Futures struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	n    int
	errs []error
}

// Go runs fn on a new goroutine as one pending operation.
func (fs *Futures) Go(fn func() error) {
	fs.Add(1)
	go func() { fs.Done(fn()) }()
}

// Add registers n pending operations.
func (fs *Futures) Add(n int) {
	fs.mu.Lock()
	fs.n += n
	fs.mu.Unlock()
	fs.wg.Add(n)
}

// Done marks one operation complete. A non-nil err is reported by BlockForPending.
func (fs *Futures) Done(err error) {
	fs.mu.Lock()
	fs.n--
	if err != nil {
		fs.errs = append(fs.errs, err)
	}
	fs.mu.Unlock()
	fs.wg.Done()
}

// Pending returns the number of outstanding operations.
func (fs *Futures) Pending() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.n
}

// BlockForPending waits, with managed blocking, until every registered
// operation completed. It returns the joined operation errors or ctx.Err().
func (fs *Futures) BlockForPending(ctx context.Context) error {
	if fs.Pending() > 0 {
		done := make(chan struct{})
		go func() {
			fs.wg.Wait()
			close(done)
		}()
		if err := ManagedBlock(ctx, ChanBlocker(done)); err != nil {
			return err
		}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return errors.Join(fs.errs...)
}

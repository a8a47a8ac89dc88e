package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WriteFunc performs database writes inside a transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// ErrBatchWriterClosed is returned by Submit and Flush after Close.
var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

// BatchWriterError is the error type of the writer's sentinels.
type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }

type batch struct {
	ops []WriteFunc
	// done, when set, receives the commit result.
	done chan error
}

// BatchWriter buffers writes and commits each flush in one transaction.
// Batches commit in submission order on a single goroutine.
type BatchWriter struct {
	db       *sql.DB
	cap      int
	commitCh chan batch
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup

	// OnError receives asynchronous commit failures. Set before the first
	// Submit.
	OnError func(error)

	mu     sync.Mutex
	buf    []WriteFunc
	closed bool

	errMu   sync.Mutex
	lastErr error
}

// NewBatchWriter starts a writer that flushes when bufferSize writes are
// queued and every flushInterval (0 disables the timer).
func NewBatchWriter(db *sql.DB, bufferSize int, flushInterval time.Duration) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	bw := &BatchWriter{
		db:       db,
		cap:      bufferSize,
		buf:      make([]WriteFunc, 0, bufferSize),
		commitCh: make(chan batch, 2),
		stop:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.committer()
	if flushInterval > 0 {
		bw.ticker = time.NewTicker(flushInterval)
		bw.wg.Add(1)
		go bw.loop()
	}
	return bw
}

// Submit enqueues a write.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.buf = append(bw.buf, w)
	if len(bw.buf) >= bw.cap {
		bw.flushLocked(nil)
	}
	return nil
}

// Flush commits everything submitted so far and waits for the result.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.flushLocked(done)
	bw.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushLocked hands the buffer to the committer. bw.mu is held, so a slow
// committer pushes back on Submit.
func (bw *BatchWriter) flushLocked(done chan error) {
	if len(bw.buf) == 0 && done == nil {
		return
	}
	b := batch{ops: bw.buf, done: done}
	bw.buf = make([]WriteFunc, 0, bw.cap)
	bw.commitCh <- b
}

func (bw *BatchWriter) committer() {
	defer bw.wg.Done()
	for b := range bw.commitCh {
		err := bw.execute(b.ops)
		if err != nil {
			bw.errMu.Lock()
			if bw.lastErr == nil {
				bw.lastErr = err
			}
			bw.errMu.Unlock()
			if bw.OnError != nil {
				bw.OnError(err)
			}
		}
		if b.done != nil {
			b.done <- err
		}
	}
}

func (bw *BatchWriter) execute(ops []WriteFunc) error {
	if len(ops) == 0 {
		return nil
	}
	// Writes outlive the caller's context; Close waits for them.
	ctx := context.Background()
	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, w := range ops {
		if err := w(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch (%d writes): %w", len(ops), err)
	}
	return nil
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	for {
		select {
		case <-bw.stop:
			return
		case <-bw.ticker.C:
			bw.mu.Lock()
			if !bw.closed {
				bw.flushLocked(nil)
			}
			bw.mu.Unlock()
		}
	}
}

// Close commits what is buffered, stops the writer and returns the first
// asynchronous error seen.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	bw.flushLocked(nil)
	bw.mu.Unlock()

	close(bw.stop)
	close(bw.commitCh)
	bw.wg.Wait()
	return bw.Err()
}

// Err returns the first asynchronous error, if any.
func (bw *BatchWriter) Err() error {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.lastErr
}

// IsClosed reports whether err came from a closed writer.
func IsClosed(err error) bool { return errors.Is(err, ErrBatchWriterClosed) }

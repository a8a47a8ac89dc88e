package persist

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/japaniel/readmark/pkg/annotation"
)

// StoreOptions tunes the batching of a Store.
type StoreOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
	// OnError receives write failures that happen after Persist returned.
	OnError func(error)
}

// Store keeps the annotations of one document. Writes are queued on a
// BatchWriter, so Persist and friends return before the data is on disk;
// Flush and Close wait for it.
type Store struct {
	db    *sql.DB
	docID int64
	w     *BatchWriter
	log   *slog.Logger
}

// NewStore returns a Store writing annotations of documentID.
func NewStore(db *sql.DB, documentID int64, opts StoreOptions) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	w := NewBatchWriter(db, opts.BatchSize, opts.FlushInterval)
	w.OnError = func(err error) {
		log.Error("annotation write failed", "document", documentID, "err", err)
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}
	return &Store{db: db, docID: documentID, w: w, log: log}
}

// DocumentID returns the document the store writes to.
func (s *Store) DocumentID() int64 { return s.docID }

func (s *Store) Persist(_ context.Context, a annotation.Annotation) error {
	return s.w.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return SaveAnnotation(ctx, tx, s.docID, a)
	})
}

func (s *Store) Unpersist(_ context.Context, id annotation.ID) error {
	return s.w.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return DeleteAnnotation(ctx, tx, id)
	})
}

func (s *Store) PersistBatch(_ context.Context, as []annotation.Annotation) error {
	return s.w.Submit(func(ctx context.Context, tx *sql.Tx) error {
		for _, a := range as {
			if err := SaveAnnotation(ctx, tx, s.docID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UnpersistBatch(_ context.Context, ids []annotation.ID) error {
	return s.w.Submit(func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range ids {
			if err := DeleteAnnotation(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the stored annotations, flushing queued writes first.
func (s *Store) Load(ctx context.Context) ([]annotation.Annotation, error) {
	if err := s.w.Flush(ctx); err != nil && !IsClosed(err) {
		return nil, err
	}
	return LoadAnnotations(ctx, s.db, s.docID)
}

// Flush waits until queued writes are committed.
func (s *Store) Flush(ctx context.Context) error { return s.w.Flush(ctx) }

// Close commits queued writes and stops the writer. The database handle
// stays open.
func (s *Store) Close() error {
	err := s.w.Close()
	s.log.Debug("annotation store closed", "document", s.docID, "err", err)
	return err
}

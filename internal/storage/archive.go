package storage

import (
	"context"
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/djkaif/status-monitor/internal/models"
)

// ArchiveStore is the durable holding area for signals awaiting a
// confirmed consumer handoff. Records enter via rotation and leave only
// on a matching batch acknowledgment.
type ArchiveStore interface {
	// InsertIgnore archives the given signals, skipping any whose dedup
	// key is already present. Returns the number actually inserted.
	// Re-running with the same records is safe, which makes a partially
	// completed rotation re-runnable.
	InsertIgnore(ctx context.Context, sigs []models.Signal) (int, error)
	List(ctx context.Context) ([]models.Signal, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error

	Close() error
}

// BadgerArchiveStore implements ArchiveStore with Badger DB.
type BadgerArchiveStore struct {
	db *badger.DB
}

func NewBadgerArchiveStore(path string) (ArchiveStore, error) {
	db, err := openBadger(path)
	if err != nil {
		return nil, err
	}
	return &BadgerArchiveStore{db: db}, nil
}

func (s *BadgerArchiveStore) Close() error {
	return s.db.Close()
}

func (s *BadgerArchiveStore) InsertIgnore(ctx context.Context, sigs []models.Signal) (int, error) {
	// A whole rotation window may exceed a single badger transaction, so
	// screen for existing keys first and write the rest through a
	// WriteBatch. A partial flush is safe: the rotation re-runs with
	// the same insert-or-ignore semantics.
	fresh := make([]models.Signal, 0, len(sigs))
	seen := make(map[string]struct{}, len(sigs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, sig := range sigs {
			dedup := sig.DedupKey()
			if _, dup := seen[dedup]; dup {
				continue
			}
			_, err := txn.Get(signalKey(dedup))
			if err == nil {
				continue // already archived by an earlier rotation
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
			seen[dedup] = struct{}{}
			fresh = append(fresh, sig)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, sig := range fresh {
		data, err := json.Marshal(sig)
		if err != nil {
			return 0, err
		}
		if err := wb.Set(signalKey(sig.DedupKey()), data); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

func (s *BadgerArchiveStore) List(ctx context.Context) ([]models.Signal, error) {
	return listSignals(s.db)
}

func (s *BadgerArchiveStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(signalPrefix); it.ValidForPrefix(signalPrefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *BadgerArchiveStore) Clear(ctx context.Context) error {
	return clearSignals(s.db)
}

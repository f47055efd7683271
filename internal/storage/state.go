package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/djkaif/status-monitor/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
)

var (
	nodePrefix   = []byte("node:")
	signalPrefix = []byte("signal:")
)

// StateStore holds the short-retention state: the node registry and the
// signal buffer awaiting rotation.
type StateStore interface {
	SaveNode(ctx context.Context, n *models.Node) error
	GetNode(ctx context.Context, id string) (*models.Node, error)
	ListNodes(ctx context.Context) ([]models.Node, error)

	// InsertSignal adds a signal to the buffer keyed by its dedup key.
	// Returns false if a signal with the same key already exists; a
	// duplicate is not an error.
	InsertSignal(ctx context.Context, s models.Signal) (bool, error)
	// OldestSignal returns the buffered signal with the smallest
	// received-at, or nil if the buffer is empty.
	OldestSignal(ctx context.Context) (*models.Signal, error)
	ListSignals(ctx context.Context) ([]models.Signal, error)
	ClearSignals(ctx context.Context) error

	Close() error
}

// BadgerStateStore implements StateStore with Badger DB.
type BadgerStateStore struct {
	db *badger.DB
}

func NewBadgerStateStore(path string) (StateStore, error) {
	db, err := openBadger(path)
	if err != nil {
		return nil, err
	}
	return &BadgerStateStore{db: db}, nil
}

func openBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger's own logging is too chatty for tests
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	return badger.Open(opts)
}

func (s *BadgerStateStore) Close() error {
	return s.db.Close()
}

func nodeKey(id string) []byte {
	return []byte("node:" + id)
}

func signalKey(dedup string) []byte {
	return []byte("signal:" + dedup)
}

func (s *BadgerStateStore) SaveNode(ctx context.Context, n *models.Node) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return txn.Set(nodeKey(n.ID), data)
	})
}

func (s *BadgerStateStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	var out models.Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStateStore) ListNodes(ctx context.Context) ([]models.Node, error) {
	var out []models.Node
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(nodePrefix); it.ValidForPrefix(nodePrefix); it.Next() {
			var n models.Node
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &n)
			})
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStateStore) InsertSignal(ctx context.Context, sig models.Signal) (bool, error) {
	inserted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := signalKey(sig.DedupKey())
		_, err := txn.Get(key)
		if err == nil {
			return nil // already buffered, idempotent no-op
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *BadgerStateStore) OldestSignal(ctx context.Context) (*models.Signal, error) {
	var oldest *models.Signal
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(signalPrefix); it.ValidForPrefix(signalPrefix); it.Next() {
			var sig models.Signal
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &sig)
			})
			if err != nil {
				return err
			}
			if oldest == nil || sig.ReceivedAt < oldest.ReceivedAt {
				cp := sig
				oldest = &cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return oldest, nil
}

func (s *BadgerStateStore) ListSignals(ctx context.Context) ([]models.Signal, error) {
	return listSignals(s.db)
}

func (s *BadgerStateStore) ClearSignals(ctx context.Context) error {
	return clearSignals(s.db)
}

func listSignals(db *badger.DB) ([]models.Signal, error) {
	var out []models.Signal
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(signalPrefix); it.ValidForPrefix(signalPrefix); it.Next() {
			var sig models.Signal
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &sig)
			})
			if err != nil {
				return err
			}
			out = append(out, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// clearSignals deletes through a WriteBatch rather than one Update txn:
// a long rotation window can hold more records than a single badger
// transaction allows. A partial flush only leaves signals behind for the
// next rotation to move again.
func clearSignals(db *badger.DB) error {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(signalPrefix); it.ValidForPrefix(signalPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

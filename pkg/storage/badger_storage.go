// Package storage provides the default api.Persistence implementation,
// backed by BadgerDB. It is deliberately narrow: the RSM driver only
// ever needs atomic put/get/remove of two small keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/pkg/logger"
)

var _ api.Persistence = (*BadgerStorage)(nil)

// BadgerStorage is a durable key/value store for RSM progress
// pointers. Safe for concurrent use; Badger serializes transactions
// internally.
type BadgerStorage struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (creating if absent) a BadgerDB at dir.
func Open(dir string, log *slog.Logger) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %s: %w", dir, err)
	}
	return &BadgerStorage{db: db, logger: log}, nil
}

// OpenInMemory opens an ephemeral in-memory BadgerDB, useful for tests
// and single-process demos.
func OpenInMemory(log *slog.Logger) (*BadgerStorage, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("storage: open in-memory badger: %w", err)
	}
	return &BadgerStorage{db: db, logger: log}, nil
}

func (s *BadgerStorage) Put(_ context.Context, key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("storage: put %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStorage) Get(_ context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStorage) Remove(_ context.Context, key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: remove %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying Badger handles.
func (s *BadgerStorage) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close badger store", logger.ErrAttr(err))
		return err
	}
	return nil
}

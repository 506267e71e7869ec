// Package kv provides the durable key-value stores backing the client
// settings. Keys are hierarchical (repositories.StoreKey) and encoded with a
// ':' separator.
package kv

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

const separator byte = ':'

// BadgerStore is a KeyValueStore backed by BadgerDB v4
type BadgerStore struct {
	db *badger.DB
}

// Ensure BadgerStore implements the KeyValueStore interface
var _ repositories.KeyValueStore = (*BadgerStore)(nil)

// BadgerOptions configures the BadgerDB store
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence
	InMemory bool

	// Logger receives badger warnings and errors. Nil silences badger.
	Logger *zap.Logger
}

// NewBadgerStore opens a BadgerDB-backed store
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("kv: BadgerOptions.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger.Sugar()})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Get(_ context.Context, key repositories.StoreKey) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encode(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, repositories.ErrKeyNotFound
	}
	return val, err
}

func (b *BadgerStore) Set(_ context.Context, key repositories.StoreKey, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encode(key), value)
	})
}

func (b *BadgerStore) Delete(_ context.Context, key repositories.StoreKey) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encode(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// BatchSet writes all entries in a single transaction so readers never see a
// partially applied batch
func (b *BadgerStore) BatchSet(_ context.Context, entries []repositories.StoreEntry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Set(encode(e.Key), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// encode joins key segments with the separator
func encode(k repositories.StoreKey) []byte {
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, 0, n)
	for i, seg := range k {
		if i > 0 {
			buf = append(buf, separator)
		}
		buf = append(buf, seg...)
	}
	return buf
}

// badgerLogger forwards badger warnings and errors to zap, dropping the
// chatty info and debug levels
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf("badger: "+f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf("badger: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}

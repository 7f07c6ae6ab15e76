// Package ice implements the local disk backend ("ice") on top of badger.
// The home node of a key writes its values here; a replaced or removed value
// is deleted again.
package ice

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/dgraph-io/badger"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("persist/ice")

// Backend is a persist.Backend storing value bytes in a badger database.
type Backend struct {
	db *badger.DB
}

// Open opens (or creates) the badger database in dir.
func Open(dir string) (*Backend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(Logger)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ice: open %s: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Name() string { return "ice" }

func (b *Backend) Load(d persist.Descriptor, length int) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(d.Key()))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("ice: load %q: not stored", d.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("ice: load %q: %w", d.Key(), err)
	}
	if len(out) < length {
		return nil, fmt.Errorf("ice: load %q: short value (%d < %d)", d.Key(), len(out), length)
	}
	return out, nil
}

func (b *Backend) Store(d persist.Descriptor) error {
	mem := d.Mem()
	if mem == nil || len(mem) != d.Max() {
		return fmt.Errorf("ice: store %q: value not fully in memory", d.Key())
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(d.Key()), mem)
	})
	if err != nil {
		return fmt.Errorf("ice: store %q: %w", d.Key(), err)
	}
	return nil
}

func (b *Backend) Delete(d persist.Descriptor) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(d.Key()))
	})
	if err != nil {
		return fmt.Errorf("ice: delete %q: %w", d.Key(), err)
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

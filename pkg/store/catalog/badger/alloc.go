package badger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

func (s *BadgerCatalogStore) BlockSize() uint32 {
	return s.blockSize
}

func (s *BadgerCatalogStore) FreeBlocks(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.free.GetCardinality(), nil
}

func (s *BadgerCatalogStore) Allocate(ctx context.Context, tx catalog.Txn, fileID catalog.CNID, blocks uint32) ([]catalog.Extent, error) {
	t, err := s.writable(tx)
	if err != nil {
		return nil, err
	}
	return catalog.TakeExtents(t.bitmap(), blocks)
}

func (s *BadgerCatalogStore) Release(ctx context.Context, tx catalog.Txn, fileID catalog.CNID, fork catalog.ForkKind, extents []catalog.Extent) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	free := t.bitmap()
	for _, e := range extents {
		if uint64(e.Start)+uint64(e.Count) > uint64(s.totalBlocks) {
			return catalog.NewError(catalog.ErrIOError, "extent beyond end of volume", "")
		}
		if free.Contains(e.Start) {
			return catalog.NewError(catalog.ErrIOError, "releasing a free block", "")
		}
	}
	catalog.ReturnExtents(free, extents)
	return nil
}

// ============================================================================
// Extended attributes
// ============================================================================

func (s *BadgerCatalogStore) SetXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string, value []byte) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	if _, err := getRecord(t.btx, id); err != nil {
		return err
	}
	return catalog.WrapIO(t.btx.Set(keyXattr(id, name), append([]byte(nil), value...)), "write xattr")
}

func (s *BadgerCatalogStore) GetXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string) ([]byte, error) {
	var value []byte
	err := s.read(tx, func(btx *badger.Txn) error {
		item, err := btx.Get(keyXattr(id, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return catalog.NewError(catalog.ErrNotFound, "no such attribute", name)
		}
		if err != nil {
			return catalog.WrapIO(err, "read xattr")
		}
		value, err = item.ValueCopy(nil)
		return catalog.WrapIO(err, "read xattr")
	})
	return value, err
}

func (s *BadgerCatalogStore) RemoveXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	key := keyXattr(id, name)
	if _, err := t.btx.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return catalog.NewError(catalog.ErrNotFound, "no such attribute", name)
	} else if err != nil {
		return catalog.WrapIO(err, "read xattr")
	}
	return catalog.WrapIO(t.btx.Delete(key), "delete xattr")
}

func (s *BadgerCatalogStore) ListXattrs(ctx context.Context, tx catalog.Txn, id catalog.CNID) ([]string, error) {
	names := []string{}
	err := s.read(tx, func(btx *badger.Txn) error {
		prefix := keyXattrPrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := btx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (s *BadgerCatalogStore) RemoveAllXattrs(ctx context.Context, tx catalog.Txn, id catalog.CNID) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	names, err := s.ListXattrs(ctx, t, id)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := t.btx.Delete(keyXattr(id, name)); err != nil {
			return catalog.WrapIO(err, "delete xattr")
		}
	}
	return nil
}

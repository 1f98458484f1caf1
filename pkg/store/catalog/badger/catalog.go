package badger

import (
	"bytes"
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

func (s *BadgerCatalogStore) ReadHeader(ctx context.Context, tx catalog.Txn) (catalog.VolumeHeader, error) {
	var wh wireHeader
	err := s.read(tx, func(btx *badger.Txn) error {
		return getValue(btx, keyHeader, &wh)
	})
	if err != nil {
		return catalog.VolumeHeader{}, catalog.WrapIO(err, "read volume header")
	}
	return wh.header(), nil
}

func (s *BadgerCatalogStore) WriteHeader(ctx context.Context, tx catalog.Txn, hdr *catalog.VolumeHeader) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	var wh wireHeader
	if err := getValue(t.btx, keyHeader, &wh); err != nil {
		return catalog.WrapIO(err, "read volume header")
	}
	h := *hdr
	h.WriteCount++
	wh.setHeader(&h)
	return catalog.WrapIO(setValue(t.btx, keyHeader, &wh), "write volume header")
}

// getRecord loads the wire record of id. Returns ErrNotFound if absent.
func getRecord(btx *badger.Txn, id catalog.CNID) (*wireRecord, error) {
	var w wireRecord
	err := getValue(btx, keyRecord(id), &w)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, catalog.NewError(catalog.ErrNotFound, "no thread record", "")
	}
	if err != nil {
		return nil, catalog.WrapIO(err, "read catalog record")
	}
	return &w, nil
}

// getChild resolves a name-index key. Returns ErrNotFound if absent.
func getChild(btx *badger.Txn, key []byte) (catalog.CNID, bool, error) {
	item, err := btx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, catalog.WrapIO(err, "read name index")
	}
	var id catalog.CNID
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, true, catalog.WrapIO(err, "read name index")
}

// requireDir checks that parent exists and is a directory.
func requireDir(btx *badger.Txn, parent catalog.CNID, name string) error {
	w, err := getRecord(btx, parent)
	if catalog.IsNotFound(err) {
		return catalog.NewError(catalog.ErrNotFound, "parent not found", name)
	}
	if err != nil {
		return err
	}
	if !w.IsDir {
		return catalog.NewError(catalog.ErrNotDirectory, "parent is not a directory", name)
	}
	return nil
}

func (s *BadgerCatalogStore) Lookup(ctx context.Context, tx catalog.Txn, parent catalog.CNID, name string) (catalog.Record, error) {
	var rec catalog.Record
	err := s.read(tx, func(btx *badger.Txn) error {
		id, ok, err := getChild(btx, keyChild(parent, s.fold(name)))
		if err != nil {
			return err
		}
		if !ok {
			if err := requireDir(btx, parent, name); err != nil {
				return err
			}
			return catalog.NewError(catalog.ErrNotFound, "no such entry", name)
		}
		w, err := getRecord(btx, id)
		if err != nil {
			return err
		}
		rec = w.record()
		return nil
	})
	return rec, err
}

func (s *BadgerCatalogStore) LookupByID(ctx context.Context, tx catalog.Txn, id catalog.CNID) (catalog.Record, error) {
	var rec catalog.Record
	err := s.read(tx, func(btx *badger.Txn) error {
		w, err := getRecord(btx, id)
		if err != nil {
			return err
		}
		rec = w.record()
		return nil
	})
	return rec, err
}

func (s *BadgerCatalogStore) Insert(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor, attrs *catalog.Attributes) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	btx := t.btx

	if err := requireDir(btx, desc.ParentID, desc.Name); err != nil {
		return err
	}
	if _, err := getRecord(btx, desc.ID); err == nil {
		return catalog.NewError(catalog.ErrAlreadyExists, "identifier in use", desc.Name)
	} else if !catalog.IsNotFound(err) {
		return err
	}

	key := s.fold(desc.Name)
	childKey := keyChild(desc.ParentID, key)
	if _, exists, err := getChild(btx, childKey); err != nil {
		return err
	} else if exists {
		return catalog.NewError(catalog.ErrAlreadyExists, "entry exists", desc.Name)
	}

	if err := setValue(btx, keyRecord(desc.ID), toWireRecord(key, desc, attrs)); err != nil {
		return catalog.WrapIO(err, "write catalog record")
	}
	if err := btx.Set(childKey, encodeID(desc.ID)); err != nil {
		return catalog.WrapIO(err, "write name index")
	}
	return catalog.WrapIO(addCount(btx, 1), "update record count")
}

func (s *BadgerCatalogStore) Update(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor, attrs *catalog.Attributes) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	cur, err := getRecord(t.btx, desc.ID)
	if err != nil {
		return err
	}
	rec := cur.record()
	updated := toWireRecord(cur.Key, &rec.Desc, attrs)
	updated.IsDir = cur.IsDir
	return catalog.WrapIO(setValue(t.btx, keyRecord(desc.ID), updated), "write catalog record")
}

func (s *BadgerCatalogStore) Delete(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor) error {
	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	btx := t.btx

	if desc.ID == catalog.RootFolderID {
		return catalog.NewError(catalog.ErrAccessDenied, "cannot delete root folder", "")
	}
	cur, err := getRecord(btx, desc.ID)
	if err != nil {
		return err
	}
	if cur.IsDir {
		empty, err := isEmpty(btx, desc.ID)
		if err != nil {
			return err
		}
		if !empty {
			return catalog.NewError(catalog.ErrNotEmpty, "directory not empty", desc.Name)
		}
	}

	if err := btx.Delete(keyChild(catalog.CNID(cur.ParentID), cur.Key)); err != nil {
		return catalog.WrapIO(err, "delete name index")
	}
	if err := btx.Delete(keyRecord(desc.ID)); err != nil {
		return catalog.WrapIO(err, "delete catalog record")
	}
	return catalog.WrapIO(addCount(btx, -1), "update record count")
}

func isEmpty(btx *badger.Txn, dir catalog.CNID) (bool, error) {
	prefix := keyChildPrefix(dir)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := btx.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return !it.ValidForPrefix(prefix), nil
}

func (s *BadgerCatalogStore) Rename(ctx context.Context, tx catalog.Txn, from *catalog.Descriptor, toParent catalog.CNID, toName string) (catalog.Descriptor, error) {
	t, err := s.writable(tx)
	if err != nil {
		return catalog.Descriptor{}, err
	}
	btx := t.btx

	cur, err := getRecord(btx, from.ID)
	if err != nil {
		return catalog.Descriptor{}, err
	}
	if err := requireDir(btx, toParent, toName); err != nil {
		if catalog.IsNotFound(err) {
			return catalog.Descriptor{}, catalog.NewError(catalog.ErrNotFound, "destination parent not found", toName)
		}
		return catalog.Descriptor{}, err
	}

	key := s.fold(toName)
	newKey := keyChild(toParent, key)
	holder, exists, err := getChild(btx, newKey)
	if err != nil {
		return catalog.Descriptor{}, err
	}
	if exists && holder != from.ID {
		return catalog.Descriptor{}, catalog.NewError(catalog.ErrAlreadyExists, "destination exists", toName)
	}

	oldKey := keyChild(catalog.CNID(cur.ParentID), cur.Key)
	if !bytes.Equal(oldKey, newKey) {
		if err := btx.Delete(oldKey); err != nil {
			return catalog.Descriptor{}, catalog.WrapIO(err, "delete name index")
		}
	}
	if err := btx.Set(newKey, encodeID(from.ID)); err != nil {
		return catalog.Descriptor{}, catalog.WrapIO(err, "write name index")
	}

	cur.Key = key
	cur.Name = toName
	cur.ParentID = uint32(toParent)
	if err := setValue(btx, keyRecord(from.ID), cur); err != nil {
		return catalog.Descriptor{}, catalog.WrapIO(err, "write catalog record")
	}
	return cur.record().Desc, nil
}

func (s *BadgerCatalogStore) GetBatch(ctx context.Context, tx catalog.Txn, parent catalog.CNID, pos catalog.Position, max int) ([]catalog.Record, bool, error) {
	var (
		batch []catalog.Record
		eof   bool
	)
	err := s.read(tx, func(btx *badger.Txn) error {
		if err := requireDir(btx, parent, ""); err != nil {
			return err
		}

		prefix := keyChildPrefix(parent)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := btx.NewIterator(opts)
		defer it.Close()

		index := uint32(0)
		if pos.LastName != "" {
			seek := keyChild(parent, s.fold(pos.LastName))
			it.Seek(seek)
			if it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seek) {
				it.Next()
			}
			index = pos.Index
		} else {
			it.Seek(prefix)
			for ; index < pos.Index && it.ValidForPrefix(prefix); index++ {
				it.Next()
			}
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if max > 0 && len(batch) >= max {
				return nil
			}
			var id catalog.CNID
			if err := it.Item().Value(func(val []byte) error {
				id = decodeID(val)
				return nil
			}); err != nil {
				return catalog.WrapIO(err, "read name index")
			}

			w, err := getRecord(btx, id)
			if err != nil {
				return err
			}
			rec := w.record()
			index++
			rec.Desc.Hint = index
			batch = append(batch, rec)
		}
		eof = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return batch, eof, nil
}

func (s *BadgerCatalogStore) Reserve(ctx context.Context, tx catalog.Txn, op catalog.Operation) error {
	if s.cfg.MaxRecords <= 0 {
		return nil
	}
	var n uint64
	err := s.read(tx, func(btx *badger.Txn) error {
		var err error
		n, err = getCount(btx)
		return err
	})
	if err != nil {
		return catalog.WrapIO(err, "read record count")
	}
	if 2*int(n)+op.RecordsNeeded() > s.cfg.MaxRecords {
		return catalog.NewError(catalog.ErrNoSpace, "catalog full", "")
	}
	return nil
}

func (s *BadgerCatalogStore) AcquireID(ctx context.Context, tx catalog.Txn) (catalog.CNID, error) {
	t, err := s.writable(tx)
	if err != nil {
		return 0, err
	}

	hdr, err := s.ReadHeader(ctx, t)
	if err != nil {
		return 0, err
	}
	id, err := catalog.NextCNID(&hdr, func(c catalog.CNID) (bool, error) {
		_, err := getRecord(t.btx, c)
		if catalog.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return 0, err
	}

	var wh wireHeader
	if err := getValue(t.btx, keyHeader, &wh); err != nil {
		return 0, catalog.WrapIO(err, "read volume header")
	}
	wh.NextCatalogID = uint32(hdr.NextCatalogID)
	wh.Attributes = uint32(hdr.Attributes)
	return id, catalog.WrapIO(setValue(t.btx, keyHeader, &wh), "write volume header")
}

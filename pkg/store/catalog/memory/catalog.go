package memory

import (
	"context"
	"sort"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

func (s *MemoryCatalogStore) ReadHeader(ctx context.Context, tx catalog.Txn) (catalog.VolumeHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdr, nil
}

func (s *MemoryCatalogStore) WriteHeader(ctx context.Context, tx catalog.Txn, hdr *catalog.VolumeHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	h := *hdr
	h.WriteCount++
	s.putHeader(t, h)
	return nil
}

func (s *MemoryCatalogStore) Lookup(ctx context.Context, tx catalog.Txn, parent catalog.CNID, name string) (catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.children[parent]
	if !ok {
		if _, exists := s.records[parent]; exists {
			return catalog.Record{}, catalog.NewError(catalog.ErrNotDirectory, "parent is not a directory", name)
		}
		return catalog.Record{}, catalog.NewError(catalog.ErrNotFound, "parent not found", name)
	}

	id, ok := idx.ids[s.fold(name)]
	if !ok {
		return catalog.Record{}, catalog.NewError(catalog.ErrNotFound, "no such entry", name)
	}
	return s.recordLocked(id)
}

func (s *MemoryCatalogStore) LookupByID(ctx context.Context, tx catalog.Txn, id catalog.CNID) (catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked(id)
}

func (s *MemoryCatalogStore) recordLocked(id catalog.CNID) (catalog.Record, error) {
	e, ok := s.records[id]
	if !ok {
		return catalog.Record{}, catalog.NewError(catalog.ErrNotFound, "no thread record", "")
	}
	return catalog.Record{Desc: e.desc, Attrs: e.attrs.Clone()}, nil
}

func (s *MemoryCatalogStore) Insert(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor, attrs *catalog.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	idx, ok := s.children[desc.ParentID]
	if !ok {
		return catalog.NewError(catalog.ErrNotFound, "parent not found", desc.Name)
	}
	if _, taken := s.records[desc.ID]; taken {
		return catalog.NewError(catalog.ErrAlreadyExists, "identifier in use", desc.Name)
	}

	key := s.fold(desc.Name)
	if _, exists := idx.ids[key]; exists {
		return catalog.NewError(catalog.ErrAlreadyExists, "entry exists", desc.Name)
	}

	e := &entry{desc: *desc, attrs: attrs.Clone(), key: key}
	e.desc.IsDir = attrs.Type == catalog.TypeDirectory
	s.putRecord(t, e)
	s.linkChild(t, desc.ParentID, key, desc.ID)
	if e.desc.IsDir {
		s.makeDirIndex(t, desc.ID)
	}
	return nil
}

func (s *MemoryCatalogStore) Update(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor, attrs *catalog.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	cur, ok := s.records[desc.ID]
	if !ok {
		return catalog.NewError(catalog.ErrNotFound, "no thread record", desc.Name)
	}
	s.putRecord(t, &entry{desc: cur.desc, attrs: attrs.Clone(), key: cur.key})
	return nil
}

func (s *MemoryCatalogStore) Delete(ctx context.Context, tx catalog.Txn, desc *catalog.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	cur, ok := s.records[desc.ID]
	if !ok {
		return catalog.NewError(catalog.ErrNotFound, "no thread record", desc.Name)
	}
	if desc.ID == catalog.RootFolderID {
		return catalog.NewError(catalog.ErrAccessDenied, "cannot delete root folder", "")
	}
	if idx, isDir := s.children[desc.ID]; isDir && len(idx.keys) > 0 {
		return catalog.NewError(catalog.ErrNotEmpty, "directory not empty", desc.Name)
	}

	s.unlinkChild(t, cur.desc.ParentID, cur.key)
	s.dropDirIndex(t, desc.ID)
	s.dropRecord(t, desc.ID)
	return nil
}

func (s *MemoryCatalogStore) Rename(ctx context.Context, tx catalog.Txn, from *catalog.Descriptor, toParent catalog.CNID, toName string) (catalog.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return catalog.Descriptor{}, err
	}

	cur, ok := s.records[from.ID]
	if !ok {
		return catalog.Descriptor{}, catalog.NewError(catalog.ErrNotFound, "no thread record", from.Name)
	}
	idx, ok := s.children[toParent]
	if !ok {
		return catalog.Descriptor{}, catalog.NewError(catalog.ErrNotFound, "destination parent not found", toName)
	}

	key := s.fold(toName)
	if holder, exists := idx.ids[key]; exists && holder != from.ID {
		return catalog.Descriptor{}, catalog.NewError(catalog.ErrAlreadyExists, "destination exists", toName)
	}

	s.unlinkChild(t, cur.desc.ParentID, cur.key)
	s.linkChild(t, toParent, key, from.ID)

	moved := &entry{desc: cur.desc, attrs: cur.attrs, key: key}
	moved.desc.Name = toName
	moved.desc.ParentID = toParent
	moved.desc.Hint = 0
	s.putRecord(t, moved)

	return moved.desc, nil
}

func (s *MemoryCatalogStore) GetBatch(ctx context.Context, tx catalog.Txn, parent catalog.CNID, pos catalog.Position, max int) ([]catalog.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.children[parent]
	if !ok {
		return nil, false, catalog.NewError(catalog.ErrNotDirectory, "parent is not a directory", "")
	}

	start := int(pos.Index)
	if pos.LastName != "" {
		key := s.fold(pos.LastName)
		start = sort.SearchStrings(idx.keys, key)
		if start < len(idx.keys) && idx.keys[start] == key {
			start++
		}
	}
	if start >= len(idx.keys) {
		return nil, true, nil
	}

	end := start + max
	if max <= 0 || end > len(idx.keys) {
		end = len(idx.keys)
	}

	batch := make([]catalog.Record, 0, end-start)
	for i := start; i < end; i++ {
		e := s.records[idx.ids[idx.keys[i]]]
		rec := catalog.Record{Desc: e.desc, Attrs: e.attrs.Clone()}
		rec.Desc.Hint = uint32(i + 1)
		batch = append(batch, rec)
	}
	return batch, end == len(idx.keys), nil
}

func (s *MemoryCatalogStore) Reserve(ctx context.Context, tx catalog.Txn, op catalog.Operation) error {
	if s.cfg.MaxRecords <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if 2*len(s.records)+op.RecordsNeeded() > s.cfg.MaxRecords {
		return catalog.NewError(catalog.ErrNoSpace, "catalog full", "")
	}
	return nil
}

func (s *MemoryCatalogStore) AcquireID(ctx context.Context, tx catalog.Txn) (catalog.CNID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return 0, err
	}

	hdr := s.hdr
	id, err := catalog.NextCNID(&hdr, func(c catalog.CNID) (bool, error) {
		_, used := s.records[c]
		return used, nil
	})
	if err != nil {
		return 0, err
	}
	s.putHeader(t, hdr)
	return id, nil
}

package memory

import (
	"context"
	"sort"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

func (s *MemoryCatalogStore) BlockSize() uint32 {
	return s.cfg.BlockSize
}

func (s *MemoryCatalogStore) FreeBlocks(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.free.GetCardinality(), nil
}

func (s *MemoryCatalogStore) Allocate(ctx context.Context, tx catalog.Txn, fileID catalog.CNID, blocks uint32) ([]catalog.Extent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return nil, err
	}

	extents, err := catalog.TakeExtents(s.free, blocks)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() { catalog.ReturnExtents(s.free, extents) })
	return extents, nil
}

func (s *MemoryCatalogStore) Release(ctx context.Context, tx catalog.Txn, fileID catalog.CNID, fork catalog.ForkKind, extents []catalog.Extent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	for _, e := range extents {
		if uint64(e.Start)+uint64(e.Count) > uint64(s.cfg.TotalBlocks) {
			return catalog.NewError(catalog.ErrIOError, "extent beyond end of volume", "")
		}
		if s.free.Contains(e.Start) {
			return catalog.NewError(catalog.ErrIOError, "releasing a free block", "")
		}
	}

	catalog.ReturnExtents(s.free, extents)
	t.undo = append(t.undo, func() {
		for _, e := range extents {
			s.free.RemoveRange(uint64(e.Start), uint64(e.Start)+uint64(e.Count))
		}
	})
	return nil
}

// ============================================================================
// Extended attributes
// ============================================================================

func (s *MemoryCatalogStore) SetXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}
	if _, ok := s.records[id]; !ok {
		return catalog.NewError(catalog.ErrNotFound, "no thread record", name)
	}

	attrs, ok := s.xattrs[id]
	if !ok {
		attrs = make(map[string][]byte)
		s.xattrs[id] = attrs
	}
	prev, had := attrs[name]
	attrs[name] = append([]byte(nil), value...)
	t.undo = append(t.undo, func() {
		if had {
			attrs[name] = prev
		} else {
			delete(attrs, name)
		}
	})
	return nil
}

func (s *MemoryCatalogStore) GetXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.xattrs[id][name]
	if !ok {
		return nil, catalog.NewError(catalog.ErrNotFound, "no such attribute", name)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryCatalogStore) RemoveXattr(ctx context.Context, tx catalog.Txn, id catalog.CNID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	attrs := s.xattrs[id]
	prev, ok := attrs[name]
	if !ok {
		return catalog.NewError(catalog.ErrNotFound, "no such attribute", name)
	}
	delete(attrs, name)
	t.undo = append(t.undo, func() { attrs[name] = prev })
	return nil
}

func (s *MemoryCatalogStore) ListXattrs(ctx context.Context, tx catalog.Txn, id catalog.CNID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.xattrs[id]))
	for name := range s.xattrs[id] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryCatalogStore) RemoveAllXattrs(ctx context.Context, tx catalog.Txn, id catalog.CNID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.writable(tx)
	if err != nil {
		return err
	}

	attrs, ok := s.xattrs[id]
	if !ok {
		return nil
	}
	delete(s.xattrs, id)
	t.undo = append(t.undo, func() { s.xattrs[id] = attrs })
	return nil
}

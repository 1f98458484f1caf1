package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// Config configures a MemoryCatalogStore.
type Config struct {
	// CaseSensitive selects HFSX-style case-sensitive name comparison.
	// It is set from the volume configuration, not the store section.
	CaseSensitive bool `mapstructure:"-"`

	// MaxRecords bounds the number of catalog records (two per entry).
	// Zero means unbounded.
	MaxRecords int `mapstructure:"max_records" validate:"omitempty,gte=0"`

	// TotalBlocks is the number of allocation blocks in the volume
	TotalBlocks uint32 `mapstructure:"total_blocks" validate:"omitempty,gt=0"`

	// BlockSize is the allocation block size in bytes
	BlockSize uint32 `mapstructure:"block_size" validate:"omitempty,gt=0"`
}

// ApplyDefaults fills zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.TotalBlocks == 0 {
		c.TotalBlocks = 1 << 20
	}
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
}

// entry is one catalog record. key is the folded name under the parent.
type entry struct {
	desc  catalog.Descriptor
	attrs catalog.Attributes
	key   string
}

// dirIndex keeps a directory's children sorted by folded name.
type dirIndex struct {
	keys []string
	ids  map[string]catalog.CNID
}

func newDirIndex() *dirIndex {
	return &dirIndex{ids: make(map[string]catalog.CNID)}
}

func (d *dirIndex) insert(key string, id catalog.CNID) {
	i := sort.SearchStrings(d.keys, key)
	d.keys = append(d.keys, "")
	copy(d.keys[i+1:], d.keys[i:])
	d.keys[i] = key
	d.ids[key] = id
}

func (d *dirIndex) remove(key string) {
	i := sort.SearchStrings(d.keys, key)
	if i < len(d.keys) && d.keys[i] == key {
		d.keys = append(d.keys[:i], d.keys[i+1:]...)
	}
	delete(d.ids, key)
}

// MemoryCatalogStore implements catalog.Store with in-memory data
// structures.
//
// It is the reference backend for tests and ephemeral volumes. Names are
// kept in a sorted slice per directory rather than a B-tree; batches are
// served by binary search on the folded name.
//
// Transactions:
// Begin takes the store's journal mutex, so at most one transaction is open
// at a time. Mutations are applied in place and recorded in an undo log;
// Abort replays the log backwards. Readers outside the transaction may
// observe uncommitted writes, so callers serialize through the volume's
// catalog lock.
//
// Thread Safety:
// All methods are safe for concurrent use.
type MemoryCatalogStore struct {
	cfg Config

	// journal is held from Begin until Commit or Abort
	journal sync.Mutex

	// mu protects every field below
	mu       sync.RWMutex
	hdr      catalog.VolumeHeader
	records  map[catalog.CNID]*entry
	children map[catalog.CNID]*dirIndex
	xattrs   map[catalog.CNID]map[string][]byte
	free     *roaring.Bitmap
	closed   bool
}

// NewMemoryCatalogStore creates a formatted, empty volume holding only the
// root folder.
func NewMemoryCatalogStore(cfg Config) *MemoryCatalogStore {
	cfg.ApplyDefaults()
	now := time.Now()

	root := catalog.RootRecord(now)
	s := &MemoryCatalogStore{
		cfg:      cfg,
		hdr:      catalog.NewVolumeHeader(cfg.CaseSensitive, now),
		records:  make(map[catalog.CNID]*entry),
		children: make(map[catalog.CNID]*dirIndex),
		xattrs:   make(map[catalog.CNID]map[string][]byte),
		free:     catalog.NewFreeBitmap(cfg.TotalBlocks),
	}
	s.records[catalog.RootFolderID] = &entry{desc: root.Desc, attrs: root.Attrs}
	s.children[catalog.RootFolderID] = newDirIndex()

	logger.Debug("memory catalog formatted: blocks=%d block_size=%d case_sensitive=%v",
		cfg.TotalBlocks, cfg.BlockSize, cfg.CaseSensitive)
	return s
}

// Close marks the store closed. Further transactions fail.
func (s *MemoryCatalogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CaseSensitive implements catalog.Catalog.
func (s *MemoryCatalogStore) CaseSensitive() bool {
	return s.cfg.CaseSensitive
}

func (s *MemoryCatalogStore) fold(name string) string {
	return catalog.FoldName(name, s.cfg.CaseSensitive)
}

// ============================================================================
// Transactions
// ============================================================================

type txn struct {
	id    uuid.UUID
	store *MemoryCatalogStore
	undo  []func()
	done  bool
}

func (t *txn) ID() uuid.UUID { return t.id }

// Commit drops the undo log and releases the journal.
func (t *txn) Commit() error {
	if t.done {
		return catalog.NewError(catalog.ErrInvalidArgument, "transaction already finished", "")
	}
	t.done = true
	t.undo = nil
	t.store.journal.Unlock()
	return nil
}

// Abort rolls back every mutation in reverse order and releases the journal.
func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true

	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()

	logger.Debug("memory txn %s aborted: %d mutations rolled back", t.id, len(t.undo))
	t.undo = nil
	t.store.journal.Unlock()
}

// Begin implements catalog.Journal.
func (s *MemoryCatalogStore) Begin(ctx context.Context) (catalog.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.journal.Lock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.journal.Unlock()
		return nil, catalog.NewError(catalog.ErrIOError, "store closed", "")
	}

	return &txn{id: uuid.New(), store: s}, nil
}

// writable validates tx for a mutation. Callers hold s.mu.
func (s *MemoryCatalogStore) writable(tx catalog.Txn) (*txn, error) {
	t, ok := tx.(*txn)
	if !ok || t == nil || t.store != s {
		return nil, catalog.NewError(catalog.ErrInvalidArgument, "mutation outside a transaction of this store", "")
	}
	if t.done {
		return nil, catalog.NewError(catalog.ErrInvalidArgument, "transaction already finished", "")
	}
	return t, nil
}

// ============================================================================
// Undo-logged primitives (callers hold s.mu exclusively)
// ============================================================================

func (s *MemoryCatalogStore) putRecord(t *txn, e *entry) {
	prev, had := s.records[e.desc.ID]
	s.records[e.desc.ID] = e
	t.undo = append(t.undo, func() {
		if had {
			s.records[e.desc.ID] = prev
		} else {
			delete(s.records, e.desc.ID)
		}
	})
}

func (s *MemoryCatalogStore) dropRecord(t *txn, id catalog.CNID) {
	prev, had := s.records[id]
	if !had {
		return
	}
	delete(s.records, id)
	t.undo = append(t.undo, func() { s.records[id] = prev })
}

func (s *MemoryCatalogStore) linkChild(t *txn, parent catalog.CNID, key string, id catalog.CNID) {
	idx := s.children[parent]
	idx.insert(key, id)
	t.undo = append(t.undo, func() { idx.remove(key) })
}

func (s *MemoryCatalogStore) unlinkChild(t *txn, parent catalog.CNID, key string) {
	idx := s.children[parent]
	if idx == nil {
		return
	}
	id, ok := idx.ids[key]
	if !ok {
		return
	}
	idx.remove(key)
	t.undo = append(t.undo, func() { idx.insert(key, id) })
}

func (s *MemoryCatalogStore) makeDirIndex(t *txn, id catalog.CNID) {
	if _, ok := s.children[id]; ok {
		return
	}
	s.children[id] = newDirIndex()
	t.undo = append(t.undo, func() { delete(s.children, id) })
}

func (s *MemoryCatalogStore) dropDirIndex(t *txn, id catalog.CNID) {
	idx, ok := s.children[id]
	if !ok {
		return
	}
	delete(s.children, id)
	t.undo = append(t.undo, func() { s.children[id] = idx })
}

func (s *MemoryCatalogStore) putHeader(t *txn, hdr catalog.VolumeHeader) {
	prev := s.hdr
	s.hdr = hdr
	t.undo = append(t.undo, func() { s.hdr = prev })
}

var _ catalog.Store = (*MemoryCatalogStore)(nil)

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// Config contains configuration for creating a BadgerDB catalog store.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path" validate:"required_without=InMemory"`

	// InMemory runs BadgerDB without touching disk (tests, scratch volumes)
	InMemory bool `mapstructure:"in_memory"`

	// CaseSensitive is used when formatting a new volume. An existing
	// volume keeps the sensitivity it was formatted with.
	CaseSensitive bool `mapstructure:"-"`

	// MaxRecords bounds the number of catalog records (two per entry).
	// Zero means unbounded.
	MaxRecords int `mapstructure:"max_records" validate:"omitempty,gte=0"`

	// TotalBlocks and BlockSize set the volume geometry at format time
	TotalBlocks uint32 `mapstructure:"total_blocks"`
	BlockSize   uint32 `mapstructure:"block_size"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// ApplyDefaults fills zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.TotalBlocks == 0 {
		c.TotalBlocks = 1 << 20
	}
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
	if c.BlockCacheSizeMB == 0 {
		c.BlockCacheSizeMB = 64
	}
	if c.IndexCacheSizeMB == 0 {
		c.IndexCacheSizeMB = 32
	}
}

// BadgerCatalogStore implements catalog.Store on top of BadgerDB.
//
// Every catalog transaction is a BadgerDB read-write transaction, so a
// volume operation either lands completely or not at all, and reads issued
// through the open transaction observe its own writes. Transactions are
// serialized by a journal mutex, mirroring the single journal of an HFS+
// volume.
//
// The free-block bitmap is kept in memory as a roaring bitmap and persisted
// under b:free. A transaction that allocates or releases blocks works on a
// private copy which replaces the shared bitmap only after commit.
//
// Thread Safety:
// All methods are safe for concurrent use.
type BadgerCatalogStore struct {
	db            *badger.DB
	cfg           Config
	caseSensitive bool
	blockSize     uint32
	totalBlocks   uint32

	journal sync.Mutex

	// mu protects free
	mu   sync.RWMutex
	free *roaring.Bitmap
}

// NewBadgerCatalogStore opens (formatting if empty) a catalog at cfg.DBPath.
func NewBadgerCatalogStore(ctx context.Context, cfg Config) (*BadgerCatalogStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithBlockCacheSize(cfg.BlockCacheSizeMB << 20)
	opts = opts.WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	s := &BadgerCatalogStore{db: db, cfg: cfg}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// load reads the header and bitmap, formatting the volume on first open.
func (s *BadgerCatalogStore) load() error {
	var wh wireHeader
	err := s.db.View(func(btx *badger.Txn) error {
		return getValue(btx, keyHeader, &wh)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return s.format()
	}
	if err != nil {
		return fmt.Errorf("failed to read volume header: %w", err)
	}

	free := roaring.New()
	err = s.db.View(func(btx *badger.Txn) error {
		item, err := btx.Get(keyBitmap)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return free.UnmarshalBinary(val)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read free bitmap: %w", err)
	}

	if wh.CaseSensitive != s.cfg.CaseSensitive {
		logger.Warn("catalog at %s was formatted with case_sensitive=%v, ignoring configured %v",
			s.cfg.DBPath, wh.CaseSensitive, s.cfg.CaseSensitive)
	}
	s.caseSensitive = wh.CaseSensitive
	s.blockSize = wh.BlockSize
	s.totalBlocks = wh.TotalBlocks
	s.free = free

	logger.Debug("badger catalog opened: next_cnid=%d free_blocks=%d", wh.NextCatalogID, free.GetCardinality())
	return nil
}

func (s *BadgerCatalogStore) format() error {
	now := time.Now()
	hdr := catalog.NewVolumeHeader(s.cfg.CaseSensitive, now)
	root := catalog.RootRecord(now)
	free := catalog.NewFreeBitmap(s.cfg.TotalBlocks)

	wh := wireHeader{BlockSize: s.cfg.BlockSize, TotalBlocks: s.cfg.TotalBlocks}
	wh.setHeader(&hdr)

	err := s.db.Update(func(btx *badger.Txn) error {
		if err := setValue(btx, keyHeader, &wh); err != nil {
			return err
		}
		if err := setValue(btx, keyRecord(catalog.RootFolderID), toWireRecord("", &root.Desc, &root.Attrs)); err != nil {
			return err
		}
		if err := setCount(btx, 1); err != nil {
			return err
		}
		return setBitmap(btx, free)
	})
	if err != nil {
		return fmt.Errorf("failed to format catalog: %w", err)
	}

	s.caseSensitive = s.cfg.CaseSensitive
	s.blockSize = s.cfg.BlockSize
	s.totalBlocks = s.cfg.TotalBlocks
	s.free = free

	logger.Info("badger catalog formatted: blocks=%d block_size=%d case_sensitive=%v",
		s.totalBlocks, s.blockSize, s.caseSensitive)
	return nil
}

// Close closes the underlying database.
func (s *BadgerCatalogStore) Close() error {
	return s.db.Close()
}

// CaseSensitive implements catalog.Catalog.
func (s *BadgerCatalogStore) CaseSensitive() bool {
	return s.caseSensitive
}

func (s *BadgerCatalogStore) fold(name string) string {
	return catalog.FoldName(name, s.caseSensitive)
}

// ============================================================================
// Transactions
// ============================================================================

type txn struct {
	id    uuid.UUID
	store *BadgerCatalogStore
	btx   *badger.Txn

	// free is the transaction's private copy of the bitmap, nil until the
	// transaction touches allocation
	free *roaring.Bitmap
	done bool
}

func (t *txn) ID() uuid.UUID { return t.id }

// Commit commits the BadgerDB transaction and publishes the bitmap copy.
func (t *txn) Commit() error {
	if t.done {
		return catalog.NewError(catalog.ErrInvalidArgument, "transaction already finished", "")
	}
	t.done = true
	defer t.store.journal.Unlock()

	if t.free != nil {
		if err := setBitmap(t.btx, t.free); err != nil {
			t.btx.Discard()
			return catalog.WrapIO(err, "persist free bitmap")
		}
	}
	if err := t.btx.Commit(); err != nil {
		return catalog.WrapIO(err, "commit catalog transaction")
	}

	if t.free != nil {
		t.store.mu.Lock()
		t.store.free = t.free
		t.store.mu.Unlock()
	}
	return nil
}

// Abort discards the BadgerDB transaction.
func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.btx.Discard()
	logger.Debug("badger txn %s aborted", t.id)
	t.store.journal.Unlock()
}

// bitmap returns the transaction's private bitmap, cloning on first use.
func (t *txn) bitmap() *roaring.Bitmap {
	if t.free == nil {
		t.store.mu.RLock()
		t.free = t.store.free.Clone()
		t.store.mu.RUnlock()
	}
	return t.free
}

// Begin implements catalog.Journal.
func (s *BadgerCatalogStore) Begin(ctx context.Context) (catalog.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.journal.Lock()
	if s.db.IsClosed() {
		s.journal.Unlock()
		return nil, catalog.NewError(catalog.ErrIOError, "store closed", "")
	}
	return &txn{id: uuid.New(), store: s, btx: s.db.NewTransaction(true)}, nil
}

// read runs fn in the caller's transaction, or a fresh read-only one.
func (s *BadgerCatalogStore) read(tx catalog.Txn, fn func(btx *badger.Txn) error) error {
	if t, ok := tx.(*txn); ok && t != nil && t.store == s && !t.done {
		return fn(t.btx)
	}
	return s.db.View(fn)
}

// writable validates tx for a mutation.
func (s *BadgerCatalogStore) writable(tx catalog.Txn) (*txn, error) {
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
// Value helpers
// ============================================================================

func getValue(btx *badger.Txn, key []byte, v any) error {
	item, err := btx.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decode(val, v)
	})
}

func setValue(btx *badger.Txn, key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return btx.Set(key, data)
}

func setBitmap(btx *badger.Txn, free *roaring.Bitmap) error {
	data, err := free.ToBytes()
	if err != nil {
		return fmt.Errorf("serialize free bitmap: %w", err)
	}
	return btx.Set(keyBitmap, data)
}

func getCount(btx *badger.Txn) (uint64, error) {
	item, err := btx.Get(keyRecordCount)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func setCount(btx *badger.Txn, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return btx.Set(keyRecordCount, b[:])
}

func addCount(btx *badger.Txn, delta int64) error {
	n, err := getCount(btx)
	if err != nil {
		return err
	}
	return setCount(btx, uint64(int64(n)+delta))
}

var _ catalog.Store = (*BadgerCatalogStore)(nil)

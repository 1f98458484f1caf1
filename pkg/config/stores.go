package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/marmos91/dittohfs/pkg/store/catalog/badger"
	"github.com/marmos91/dittohfs/pkg/store/catalog/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates the catalog store selected by cfg.Store.Type.
//
// The type-specific section is decoded into the backend's own Config and
// the volume's case sensitivity is carried over from the volume section.
func CreateStore(ctx context.Context, cfg *Config) (catalog.Store, error) {
	switch cfg.Store.Type {
	case "memory":
		return createMemoryStore(cfg)
	case "badger":
		return createBadgerStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown catalog store type: %q", cfg.Store.Type)
	}
}

func createMemoryStore(cfg *Config) (catalog.Store, error) {
	memCfg, err := decodeMemoryConfig(cfg)
	if err != nil {
		return nil, err
	}

	return memory.NewMemoryCatalogStore(memCfg), nil
}

func createBadgerStore(ctx context.Context, cfg *Config) (catalog.Store, error) {
	badgerCfg, err := decodeBadgerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger catalog store: db_path is required")
	}

	store, err := badger.NewBadgerCatalogStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return store, nil
}

func decodeMemoryConfig(cfg *Config) (memory.Config, error) {
	var memCfg memory.Config
	if err := mapstructure.Decode(cfg.Store.Memory, &memCfg); err != nil {
		return memory.Config{}, fmt.Errorf("invalid memory config: %w", err)
	}
	memCfg.CaseSensitive = cfg.Volume.CaseSensitive
	return memCfg, nil
}

func decodeBadgerConfig(cfg *Config) (badger.Config, error) {
	var badgerCfg badger.Config
	if err := mapstructure.Decode(cfg.Store.Badger, &badgerCfg); err != nil {
		return badger.Config{}, fmt.Errorf("invalid badger config: %w", err)
	}
	badgerCfg.CaseSensitive = cfg.Volume.CaseSensitive
	return badgerCfg, nil
}

package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/marmos91/dittohfs/pkg/metrics"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// VolumeOptions converts the volume section into engine options.
//
// A nil m leaves metrics collection disabled.
func VolumeOptions(cfg *VolumeConfig, m metrics.VolumeMetrics) hfsplus.Options {
	opts := hfsplus.Options{
		MaxDirHints:        cfg.MaxDirHints,
		NodeCacheSize:      cfg.NodeCacheSize,
		LargeFileThreshold: cfg.LargeFileThreshold,
		TruncateStepBlocks: cfg.TruncateStepBlocks,
		FolderCount:        cfg.FolderCount,
		BatchSize:          cfg.BatchSize,
		Metrics:            m,
	}
	if cfg.WarnInterval > 0 {
		opts.WarnRate = 1 / cfg.WarnInterval.Seconds()
	}
	opts.ApplyDefaults()
	return opts
}

// OpenVolume creates the configured catalog store and mounts it.
//
// The returned store is owned by the caller and must be closed after the
// volume.
func OpenVolume(ctx context.Context, cfg *Config, m metrics.VolumeMetrics) (*hfsplus.Volume, catalog.Store, error) {
	store, err := CreateStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	vol, err := hfsplus.Open(ctx, store, VolumeOptions(&cfg.Volume, m))
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to mount volume: %w", err)
	}

	logger.Info("Volume mounted: store=%s case_sensitive=%t node_cache=%d",
		cfg.Store.Type, cfg.Volume.CaseSensitive, cfg.Volume.NodeCacheSize)
	return vol, store, nil
}

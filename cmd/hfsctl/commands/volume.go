package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/config"
	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/spf13/cobra"
)

// session is one mounted volume for the lifetime of a command.
type session struct {
	ctx context.Context
	vol *hfsplus.Volume
}

// withVolume mounts the configured volume, runs fn and unmounts it. The
// metrics server, when enabled, runs for the duration of the command.
func withVolume(cmd *cobra.Command, fn func(s *session) error) (err error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	vol, store, err := config.OpenVolume(ctx, cfg, m.VolumeMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := vol.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(&session{ctx: ctx, vol: vol})
}

// splitPath cleans p and returns its components below the root.
func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// resolve walks p from the root and returns its node with a reference the
// caller must release.
func (s *session) resolve(p string) (*hfsplus.Node, error) {
	n := s.vol.Root()
	for _, name := range splitPath(p) {
		next, err := s.vol.Lookup(s.ctx, n, name)
		s.vol.Release(s.ctx, n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		n = next
	}
	return n, nil
}

// resolveParent returns the directory holding the last component of p and
// that component's name.
func (s *session) resolveParent(p string) (*hfsplus.Node, string, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, "", catalog.NewError(catalog.ErrInvalidArgument, "path names the root folder", p)
	}
	dir, err := s.resolve(strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return nil, "", err
	}
	return dir, parts[len(parts)-1], nil
}

// resolveEntry returns the parent directory, the entry itself and its name.
// Both nodes carry references the caller must release.
func (s *session) resolveEntry(p string) (*hfsplus.Node, *hfsplus.Node, string, error) {
	dir, name, err := s.resolveParent(p)
	if err != nil {
		return nil, nil, "", err
	}
	n, err := s.vol.Lookup(s.ctx, dir, name)
	if err != nil {
		s.vol.Release(s.ctx, dir)
		return nil, nil, "", fmt.Errorf("%s: %w", p, err)
	}
	return dir, n, name, nil
}

package commands

import (
	"fmt"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/spf13/cobra"
)

var mvCmd = &cobra.Command{
	Use:   "mv SOURCE DEST",
	Short: "Rename entries",
	Long: `Rename SOURCE to DEST atomically.

DEST names the new entry itself, not a directory to move into. An existing
DEST is replaced when it is a file (or an empty directory and SOURCE is a
directory).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, func(s *session) error {
			return s.rename(args[0], args[1])
		})
	},
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func (s *session) rename(src, dst string) error {
	fromDir, from, fromName, err := s.resolveEntry(src)
	if err != nil {
		return err
	}
	defer s.vol.Release(s.ctx, fromDir)
	defer s.vol.Release(s.ctx, from)

	toDir, toName, err := s.resolveParent(dst)
	if err != nil {
		return err
	}
	defer s.vol.Release(s.ctx, toDir)

	var to *hfsplus.Node
	switch n, err := s.vol.Lookup(s.ctx, toDir, toName); {
	case err == nil:
		to = n
		defer s.vol.Release(s.ctx, to)
	case !catalog.IsCode(err, catalog.ErrNotFound):
		return fmt.Errorf("%s: %w", dst, err)
	}

	if err := s.vol.Rename(s.ctx, fromDir, from, fromName, toDir, to, toName); err != nil {
		return fmt.Errorf("%s -> %s: %w", src, dst, err)
	}
	fmt.Printf("%s -> %s\n", src, dst)
	return nil
}

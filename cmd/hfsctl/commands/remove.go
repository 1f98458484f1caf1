package commands

import (
	"fmt"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/spf13/cobra"
)

var rmUnlink bool

var rmCmd = &cobra.Command{
	Use:   "rm PATH...",
	Short: "Remove files",
	Long: `Remove files, symbolic links and hard links.

Files carrying extended attributes or larger than the volume's large file
threshold are moved to the hidden orphan folder and reclaimed in steps
before the command returns.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := hfsplus.RemoveOptions{OnlyUnlink: rmUnlink}
		return withVolume(cmd, func(s *session) error {
			for _, p := range args {
				if err := s.remove(p, func(dir, n *hfsplus.Node, name string) error {
					return s.vol.Remove(s.ctx, dir, n, name, opts)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir PATH...",
	Short: "Remove empty directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, func(s *session) error {
			for _, p := range args {
				if err := s.remove(p, func(dir, n *hfsplus.Node, name string) error {
					return s.vol.RmDir(s.ctx, dir, n, name)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(rmCmd, rmdirCmd)

	rmCmd.Flags().BoolVar(&rmUnlink, "unlink", false, "always defer reclamation through the orphan folder")
}

func (s *session) remove(p string, fn func(dir, n *hfsplus.Node, name string) error) error {
	dir, n, name, err := s.resolveEntry(p)
	if err != nil {
		return err
	}
	defer s.vol.Release(s.ctx, dir)
	// Releasing the last reference reclaims orphaned storage
	defer s.vol.Release(s.ctx, n)

	if err := fn(dir, n, name); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	fmt.Printf("removed %s\n", p)
	return nil
}

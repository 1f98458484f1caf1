package commands

import (
	"fmt"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/spf13/cobra"
)

var (
	mkdirMode uint32
	mkdirUID  uint32
	mkdirGID  uint32

	touchMode uint32
	touchSize uint64

	lnSymbolic bool
	lnMode     uint32
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH...",
	Short: "Create directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs := hfsplus.CreateAttrs{
			Mask: hfsplus.AttrMode | hfsplus.AttrUID | hfsplus.AttrGID,
			Mode: mkdirMode,
			UID:  mkdirUID,
			GID:  mkdirGID,
		}
		return withVolume(cmd, func(s *session) error {
			for _, p := range args {
				if err := s.create(p, func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
					return s.vol.MkDir(s.ctx, dir, name, attrs)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch PATH...",
	Short: "Create regular files",
	Long: `Create regular files, optionally with an initial data fork size.

Examples:
  # Create an empty file
  hfsctl touch /docs/readme.txt

  # Create a file whose data fork holds 1 MiB of allocated blocks
  hfsctl touch --size 1048576 /docs/blob.bin`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs := hfsplus.CreateAttrs{Mask: hfsplus.AttrMode, Mode: touchMode}
		if touchSize > 0 {
			attrs.Mask |= hfsplus.AttrSize
			attrs.Size = touchSize
		}
		return withVolume(cmd, func(s *session) error {
			for _, p := range args {
				if err := s.create(p, func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
					return s.vol.Create(s.ctx, dir, name, attrs)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var lnCmd = &cobra.Command{
	Use:     "ln TARGET LINK",
	Aliases: []string{"link"},
	Short:   "Create symbolic or hard links",
	Long: `Create a hard link LINK to the existing entry TARGET, or with -s a
symbolic link LINK whose target is the TARGET string.

Examples:
  # Hard link a file
  hfsctl ln /docs/a.txt /docs/b.txt

  # Symbolic link
  hfsctl ln -s ../docs/a.txt /tmp/a`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, linkPath := args[0], args[1]
		return withVolume(cmd, func(s *session) error {
			if lnSymbolic {
				return s.symlink(linkPath, target, lnMode)
			}

			n, err := s.resolve(target)
			if err != nil {
				return err
			}
			defer s.vol.Release(s.ctx, n)

			dir, name, err := s.resolveParent(linkPath)
			if err != nil {
				return err
			}
			defer s.vol.Release(s.ctx, dir)

			if err := s.vol.Link(s.ctx, n, dir, name); err != nil {
				return fmt.Errorf("%s: %w", linkPath, err)
			}
			fmt.Printf("%s => %d\n", linkPath, n.ID())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mkdirCmd, touchCmd, lnCmd)

	mkdirCmd.Flags().Uint32VarP(&mkdirMode, "mode", "m", 0o755, "permission bits")
	mkdirCmd.Flags().Uint32Var(&mkdirUID, "uid", 0, "owner user ID")
	mkdirCmd.Flags().Uint32Var(&mkdirGID, "gid", 0, "owner group ID")

	touchCmd.Flags().Uint32VarP(&touchMode, "mode", "m", 0o644, "permission bits")
	touchCmd.Flags().Uint64Var(&touchSize, "size", 0, "initial data fork size in bytes")

	lnCmd.Flags().BoolVarP(&lnSymbolic, "symbolic", "s", false, "create a symbolic link")
	lnCmd.Flags().Uint32VarP(&lnMode, "mode", "m", 0o755, "permission bits of a symbolic link")
}

// symlink creates a symbolic link at linkPath pointing at target.
func (s *session) symlink(linkPath, target string, mode uint32) error {
	attrs := hfsplus.CreateAttrs{Mask: hfsplus.AttrMode, Mode: mode}
	return s.create(linkPath, func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
		return s.vol.Symlink(s.ctx, dir, name, target, attrs)
	})
}

// create resolves the parent of p and runs fn to create its last component.
func (s *session) create(p string, fn func(dir *hfsplus.Node, name string) (*hfsplus.Node, error)) error {
	dir, name, err := s.resolveParent(p)
	if err != nil {
		return err
	}
	defer s.vol.Release(s.ctx, dir)

	n, err := fn(dir, name)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	defer s.vol.Release(s.ctx, n)

	fmt.Printf("%s => %d\n", p, n.ID())
	return nil
}

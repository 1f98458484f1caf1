package commands

import (
	"fmt"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/spf13/cobra"
)

var setxattrRemove bool

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Show the attributes of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, func(s *session) error {
			n, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			defer s.vol.Release(s.ctx, n)

			a := s.vol.GetAttr(n)
			desc := n.Descriptor()

			fmt.Printf("  Path: %s\n", args[0])
			fmt.Printf("  CNID: %d  Parent: %d  Type: %s", n.ID(), desc.ParentID, a.Type)
			if n.IsHardLink() {
				fmt.Printf(" (hard link)")
			}
			fmt.Println()
			fmt.Printf("  Mode: %#o  Uid: %d  Gid: %d  Links: %d  Flags: %#x\n",
				a.Mode, a.UID, a.GID, a.LinkCount, a.BSDFlags)
			if a.Type == catalog.TypeDirectory {
				fmt.Printf("  Entries: %d  Subdirectories: %d  Version: %d\n", a.Valence, a.DirCount, a.DirVersion)
			} else {
				fmt.Printf("  Size: %d  Blocks: %d  Resource fork: %d\n", a.DataFork.Size, a.DataFork.Blocks, a.RsrcFork.Size)
			}
			if a.Type == catalog.TypeSymlink {
				fmt.Printf("  Target: %s\n", a.SymlinkTarget)
			}
			fmt.Printf("  Access: %s\n", a.AccessTime.Format(time.RFC3339Nano))
			fmt.Printf("  Modify: %s\n", a.ModifyTime.Format(time.RFC3339Nano))
			fmt.Printf("  Change: %s\n", a.ChangeTime.Format(time.RFC3339Nano))
			fmt.Printf("   Birth: %s\n", a.CreateTime.Format(time.RFC3339Nano))

			names, err := s.vol.ListXattrs(s.ctx, n)
			if err != nil {
				return err
			}
			for _, name := range names {
				value, err := s.vol.GetXattr(s.ctx, n, name)
				if err != nil {
					return err
				}
				fmt.Printf("  xattr %s: %q\n", name, value)
			}
			return nil
		})
	},
}

var setxattrCmd = &cobra.Command{
	Use:   "setxattr PATH NAME [VALUE]",
	Short: "Set or remove an extended attribute",
	Long: `Set the extended attribute NAME of PATH to VALUE, or remove it with
--remove.

Examples:
  hfsctl setxattr /docs/a.txt com.apple.FinderInfo blue
  hfsctl setxattr --remove /docs/a.txt com.apple.FinderInfo`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !setxattrRemove && len(args) != 3 {
			return fmt.Errorf("VALUE is required unless --remove is set")
		}
		return withVolume(cmd, func(s *session) error {
			n, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			defer s.vol.Release(s.ctx, n)

			if setxattrRemove {
				return s.vol.RemoveXattr(s.ctx, n, args[1])
			}
			return s.vol.SetXattr(s.ctx, n, args[1], []byte(args[2]))
		})
	},
}

func init() {
	rootCmd.AddCommand(statCmd, setxattrCmd)

	setxattrCmd.Flags().BoolVar(&setxattrRemove, "remove", false, "remove the attribute instead of setting it")
}

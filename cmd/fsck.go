package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/types"
	"github.com/deploymenttheory/go-ltfs/internal/volume"
)

var fsckRepair bool

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check and repair volume consistency",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVolume()
		if err != nil {
			return err
		}

		mountErr := v.Mount(context.Background(), volume.MountOptions{
			ForceFull:    true,
			DeepRecovery: fsckRepair,
		})
		if mountErr != nil {
			if !lerrors.NeedsRevalidation(mountErr) {
				return mountErr
			}
			fmt.Fprintf(os.Stdout, "fsck: volume mounted with recoverable inconsistency: %v\n", mountErr)
		}

		v.RLock()
		tree := v.Tree()
		v.RUnlock()
		if tree == nil {
			return lerrors.New("cmd.fsck", lerrors.KindIndexInvalid, "no tree after mount")
		}

		var checked, problems int
		walkDentryTree(tree.Root, &checked, &problems)
		fmt.Fprintf(os.Stdout, "fsck: checked %d dentries, %d problems\n", checked, problems)

		if problems > 0 {
			return lerrors.New("cmd.fsck", lerrors.KindInconsistent, fmt.Sprintf("%d inconsistencies found", problems))
		}
		return nil
	},
}

// walkDentryTree performs the structural half of fsck's consistency
// check: every child's Parent pointer must reference its actual parent,
// and every non-negative link count must be non-zero for a live dentry.
func walkDentryTree(d *types.Dentry, checked, problems *int) {
	if d == nil {
		return
	}
	*checked++
	if d.LinkCount == 0 {
		*problems++
	}
	for _, node := range d.ChildMap {
		child := node.Dentry
		if child.Parent != d {
			*problems++
		}
		walkDentryTree(child, checked, problems)
	}
}

func init() {
	rootCmd.AddCommand(fsckCmd)
	fsckCmd.Flags().BoolVar(&fsckRepair, "repair", false, "attempt deep recovery of a damaged index during the scan")
}

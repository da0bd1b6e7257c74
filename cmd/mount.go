package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ltfs/internal/process"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/volume"
)

var (
	mountForceFull      bool
	mountDeepRecovery   bool
	mountRecoverExtra   bool
	mountRecoverSymlink bool
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount an LTFS volume and serve it in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVolume()
		if err != nil {
			return err
		}

		opts := volume.MountOptions{
			ForceFull:      mountForceFull,
			DeepRecovery:   mountDeepRecovery,
			RecoverExtra:   mountRecoverExtra,
			RecoverSymlink: mountRecoverSymlink,
		}
		if err := v.Mount(context.Background(), opts); err != nil {
			return err
		}

		process.Log().Info(fmt.Sprintf("mounted volume %s, waiting for shutdown signal", v.Label().VolumeUUID))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		v.Lock()
		defer v.Unlock()
		return v.WriteIndex(context.Background(), tape.PartitionIP, volume.ReasonUnmount, false)
	},
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolVar(&mountForceFull, "force-full-medium-scan", false, "force a full-medium scan on mount instead of trusting coherency attributes")
	mountCmd.Flags().BoolVar(&mountDeepRecovery, "deep-recovery", false, "follow the full self/back-pointer chain during generation rollback")
	mountCmd.Flags().BoolVar(&mountRecoverExtra, "recover-extra-attributes", false, "best-effort recovery of extended attributes from a damaged index")
	mountCmd.Flags().BoolVar(&mountRecoverSymlink, "recover-symlink", false, "best-effort recovery of symlink targets from a damaged index")
}

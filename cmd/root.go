package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/process"
)

var (
	verbose    bool
	devicePath string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "go-ltfs",
	Short: "Linear Tape File System engine and diagnostic CLI",
	Long: `go-ltfs mounts, formats, and recovers LTFS-formatted tape cartridges.

Commands:
  format    Format a tape cartridge as a new LTFS volume
  mount     Mount an LTFS volume and serve it (foreground)
  fsck      Check and repair volume consistency
  recover   Recover a missing EOD on one partition`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and runs it,
// translating a returned *errors.Error into the fsck-convention exit code.
func Execute() {
	// Logging is initialized after cobra has parsed the flags, so -v is
	// seen; OnInitialize hooks run once flag parsing is done.
	cobra.OnInitialize(func() {
		if err := process.InitLogging(verbose); err != nil {
			fmt.Fprintf(os.Stderr, "logging init failed: %v\n", err)
		}
	})
	process.InitSignalHandling()
	defer process.FinishSignalHandling()
	defer process.FinishLogging()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(lerrors.FsckExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (development-mode) logging")
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "", "simulated tape device base directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the LTFS configuration file")
}

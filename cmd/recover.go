package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

var recoverPartition string

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover a missing EOD on one partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVolume()
		if err != nil {
			return err
		}

		var part tape.Partition
		switch recoverPartition {
		case "ip":
			part = tape.PartitionIP
		case "dp":
			part = tape.PartitionDP
		default:
			return cmdError("recover", "--partition must be \"ip\" or \"dp\"")
		}

		ctx := context.Background()
		if err := v.RecoverEOD(ctx, part); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "recover: EOD restored on %s partition\n", recoverPartition)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().StringVar(&recoverPartition, "partition", "dp", "partition missing its EOD marker: \"ip\" or \"dp\"")
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ltfs/internal/volume"
)

var (
	formatBlockSize   uint32
	formatCompression bool
	formatBarcode     string
	formatCreator     string
	formatWORM        bool
	formatDPNum       int
	formatIPNum       int
	formatDPLogical   string
	formatIPLogical   string
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Format a tape cartridge as a new LTFS volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVolume()
		if err != nil {
			return err
		}

		if len(formatDPLogical) != 1 || len(formatIPLogical) != 1 {
			return cmdError("format", "--dp-logical-id and --ip-logical-id must each be a single character")
		}

		opts := volume.FormatOptions{
			BlockSize:   formatBlockSize,
			Compression: formatCompression,
			Barcode:     formatBarcode,
			DPLogicalID: rune(formatDPLogical[0]),
			IPLogicalID: rune(formatIPLogical[0]),
			DPNum:       formatDPNum,
			IPNum:       formatIPNum,
			Creator:     formatCreator,
			WORM:        formatWORM,
		}
		return v.FormatTape(context.Background(), opts)
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
	formatCmd.Flags().Uint32Var(&formatBlockSize, "block-size", 524288, "logical block size in bytes")
	formatCmd.Flags().BoolVar(&formatCompression, "compression", true, "enable drive compression")
	formatCmd.Flags().StringVar(&formatBarcode, "barcode", "", "cartridge barcode (6 alphanumeric characters)")
	formatCmd.Flags().StringVar(&formatCreator, "creator", "go-ltfs", "creator string recorded in the label and index")
	formatCmd.Flags().BoolVar(&formatWORM, "worm", false, "format as a write-once-read-many volume")
	formatCmd.Flags().IntVar(&formatDPNum, "dp-num", 0, "physical partition number for the data partition")
	formatCmd.Flags().IntVar(&formatIPNum, "ip-num", 1, "physical partition number for the index partition")
	formatCmd.Flags().StringVar(&formatDPLogical, "dp-logical-id", "b", "logical id letter for the data partition")
	formatCmd.Flags().StringVar(&formatIPLogical, "ip-logical-id", "a", "logical id letter for the index partition")
}

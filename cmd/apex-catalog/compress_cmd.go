package main

import (
	"fmt"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
)

var compressCodec string

// createCompressCommand creates the compress subcommand
func createCompressCommand() *cobra.Command {
	compressCmd := &cobra.Command{
		Use:   "compress [flags] SRC_APEX DST_CAPEX",
		Short: "Wrap an apex into a compressed apex",
		Long: `Compress verifies SRC_APEX against its bundled key and writes a
compressed apex carrying the original archive and its root digest.
Supported codecs: store, deflate, xz, zstd and lz4.`,
		Args: cobra.ExactArgs(2),
		RunE: executeCompress,
	}

	compressCmd.Flags().StringVar(&compressCodec, "codec", string(apexfile.CodecZstd),
		"Compression codec for the original archive")
	return compressCmd
}

func executeCompress(cmd *cobra.Command, args []string) error {
	codec, err := apexfile.ParseCodec(compressCodec)
	if err != nil {
		return err
	}
	if err := apexfile.CompressApex(args[0], args[1], codec); err != nil {
		return fmt.Errorf("compression failed: %v", err)
	}
	logger.Logger().Infof("Compressed %s into %s using %s", args[0], args[1], codec)
	return nil
}

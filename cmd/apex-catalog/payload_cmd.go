package main

import (
	"encoding/hex"
	"fmt"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/metadata"
	"github.com/open-edge-platform/apex-catalog/internal/payloaddisk"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Payload build flags
var (
	payloadFactory    bool
	payloadPinKey     bool
	payloadPinDigest  bool
	payloadLastUpdate int64
	payloadPrefix     string
)

// createPayloadCommand creates the payload command group
func createPayloadCommand() *cobra.Command {
	payloadCmd := &cobra.Command{
		Use:   "payload",
		Short: "Build or unpack VM payload disks",
	}

	buildCmd := &cobra.Command{
		Use:   "build [flags] OUTPUT APEX_FILE...",
		Short: "Build a GPT payload disk from apex files",
		Long: `Build writes a GPT disk image whose first partition holds the payload
metadata record and whose following partitions hold the given archives in
order. The metadata entries are derived from the archives themselves.`,
		Args: cobra.MinimumNArgs(2),
		RunE: executePayloadBuild,
	}
	buildCmd.Flags().BoolVar(&payloadFactory, "factory", false,
		"Mark every archive as factory (pre-installed)")
	buildCmd.Flags().BoolVar(&payloadPinKey, "pin-key", false,
		"Record each archive's bundled public key in the metadata")
	buildCmd.Flags().BoolVar(&payloadPinDigest, "pin-digest", false,
		"Verify each archive and record its root digest in the metadata")
	buildCmd.Flags().Int64Var(&payloadLastUpdate, "last-update", 0,
		"Last update time in seconds recorded for every archive")

	extractCmd := &cobra.Command{
		Use:   "extract [flags] DISK_FILE DIR",
		Short: "Copy each partition of a payload disk into DIR",
		Args:  cobra.ExactArgs(2),
		RunE:  executePayloadExtract,
	}
	extractCmd.Flags().StringVar(&payloadPrefix, "prefix", "vdb",
		"File name prefix for the extracted partitions")

	payloadCmd.AddCommand(buildCmd, extractCmd)
	return payloadCmd
}

func executePayloadBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	output, apexPaths := args[0], args[1:]

	m := &metadata.Metadata{Version: 1}
	for _, path := range apexPaths {
		entry, err := payloadEntryFor(path)
		if err != nil {
			return err
		}
		m.Apexes = append(m.Apexes, entry)
	}

	parts, err := payloaddisk.Build(output, m, apexPaths)
	if err != nil {
		return fmt.Errorf("payload disk build failed: %v", err)
	}
	log.Infof("Wrote payload disk %s with %d partitions", output, len(parts))

	for i, p := range parts {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d %-36s start=%d size=%d\n",
			i+1, p.Name, p.StartLBA, p.SizeBytes); err != nil {
			return err
		}
	}
	return nil
}

func payloadEntryFor(path string) (metadata.ApexPayload, error) {
	apex, err := apexfile.Open(path)
	if err != nil {
		return metadata.ApexPayload{}, fmt.Errorf("apex inspection failed: %v", err)
	}

	entry := metadata.ApexPayload{
		Name:              apex.Name(),
		IsFactory:         payloadFactory,
		LastUpdateSeconds: payloadLastUpdate,
	}
	if payloadPinKey {
		entry.PublicKey = apex.BundledPublicKey()
	}
	if payloadPinDigest {
		digest, err := apex.VerifyAndGetRootDigest(apex.BundledPublicKey())
		if err != nil {
			return metadata.ApexPayload{}, fmt.Errorf("verifying %s failed: %v", path, err)
		}
		raw, err := hex.DecodeString(digest)
		if err != nil {
			return metadata.ApexPayload{}, fmt.Errorf("decoding digest of %s failed: %v", path, err)
		}
		entry.RootDigest = raw
	}
	return entry, nil
}

func executePayloadExtract(cmd *cobra.Command, args []string) error {
	metadataPath, err := payloaddisk.Extract(args[0], args[1], payloadPrefix)
	if err != nil {
		return fmt.Errorf("payload disk extract failed: %v", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), metadataPath)
	return err
}

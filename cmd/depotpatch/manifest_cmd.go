package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/manifest"
)

func newManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the parsed checksum manifest",
		Long: `Print the (hash, path) pairs parsed from the configured checksum manifest,
one per line. Useful to check that a manifest is read the way you expect
before validating against it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalCfg == nil {
				return fmt.Errorf("config not loaded")
			}
			m, err := manifest.Load(globalCfg.Paths.ManifestFile)
			if err != nil {
				return err
			}
			for _, w := range m.Warnings {
				logger.Warn("manifest warning", "warning", w)
			}
			if _, err := m.WriteTo(os.Stdout); err != nil {
				return err
			}
			logger.Info("manifest parsed", "format", m.Format, "entries", m.Len())
			return nil
		},
	}
}

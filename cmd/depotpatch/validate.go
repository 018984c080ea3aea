package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/changeset"
	"github.com/BadgerOps/depotpatch/internal/manifest"
	"github.com/BadgerOps/depotpatch/internal/store"
	"github.com/BadgerOps/depotpatch/internal/updater"
)

var validateVerbose bool

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate update|game",
		Short: "Validate the update files or the game files against the manifest",
		Long: `Validate files against the configured checksum manifest.

"update" checks only the files the changeset adds or modifies, in the update
directory. "game" checks every manifest entry in the game directory.`,
		Example: `  depotpatch validate update
  depotpatch validate game --verbose`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{updater.ScopeUpdate, updater.ScopeGame},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), args[0], validateVerbose)
		},
	}

	cmd.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "print matching files too")

	return cmd
}

func runValidate(ctx context.Context, scope string, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	var (
		dir      string
		restrict *changeset.ChangeSet
		cleanup  = func() {}
	)
	switch scope {
	case updater.ScopeUpdate:
		if globalCfg.Paths.UpdateDirectory == "" {
			return fmt.Errorf("%w: provide an update directory", updater.ErrConfigMissing)
		}
		cs, err := changeset.Load(globalCfg.Paths.ChangesFile)
		if err != nil {
			return err
		}
		restrict = cs
		var perr error
		dir, cleanup, perr = prepareUpdateDir(ctx, globalCfg.Paths.UpdateDirectory)
		if perr != nil {
			return perr
		}
	case updater.ScopeGame:
		if globalCfg.Paths.GameDirectory == "" {
			return fmt.Errorf("%w: provide a game directory", updater.ErrConfigMissing)
		}
		dir = globalCfg.Paths.GameDirectory
	default:
		return fmt.Errorf("enter %q or %q to validate the files in that directory", updater.ScopeUpdate, updater.ScopeGame)
	}
	defer cleanup()

	m, err := manifest.Load(globalCfg.Paths.ManifestFile)
	if err != nil {
		return err
	}
	for _, w := range m.Warnings {
		fmt.Println(warnColor("warning: %s", w))
	}

	fmt.Printf("Validating %s\n", dir)
	verifier := newVerifier()
	verifier.SetProgress(progressPrinter(verbose))
	result, err := verifier.Verify(ctx, m, dir, restrict)
	if err != nil {
		return err
	}
	printVerification(result)

	if globalStore != nil {
		if err := store.NewJournal(globalStore).RecordVerification(0, scope, result); err != nil {
			logger.Warn("failed to record verification", "error", err)
		}
	}

	if !result.OK() {
		return fmt.Errorf("validation failed: %d bad files", len(result.BadFiles))
	}
	return nil
}

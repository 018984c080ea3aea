package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/staging"
	"github.com/BadgerOps/depotpatch/internal/updater"
)

var (
	updateYes    bool
	updateForce  bool
	updateStrict bool
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply the changeset to the game directory",
		Long: `Apply the configured changeset to the game directory.

The staged files are validated against the checksum manifest first (when
validate_update is on). Every file that is overwritten or removed is copied
into the backup directory beforehand. After copying and removing, the game
directory is validated against the manifest (when validate_game is on).

The update directory may also be a .tar, .tar.gz, .tar.xz or .tar.zst
package, which is extracted to a temporary directory first.`,
		Example: `  depotpatch update
  depotpatch update --yes
  depotpatch update --update-dir ./patch-101.tar.zst --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := updateParams{assumeYes: updateYes, force: updateForce, strict: updateStrict}
			if stdinIsTerminal() {
				params.prompt = console
			}
			return runUpdate(cmd.Context(), params)
		},
	}

	cmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "do not ask for confirmation before starting")
	cmd.Flags().BoolVar(&updateForce, "force", false, "continue even if the staged files fail validation")
	cmd.Flags().BoolVar(&updateStrict, "strict", false, "exit with an error if the game directory fails validation afterwards")

	return cmd
}

// prepareUpdateDir resolves the configured update directory, extracting it
// when it is a package. The returned cleanup is never nil.
func prepareUpdateDir(ctx context.Context, source string) (string, func(), error) {
	if source == "" {
		return "", func() {}, nil
	}
	staged, err := staging.Prepare(ctx, source, logger)
	if err != nil {
		return "", func() {}, err
	}
	if staged.Extracted() {
		fmt.Printf("Extracted %d files (%s) from %s.\n", staged.Files, humanize.Bytes(uint64(staged.Bytes)), filepath.Base(staged.Source))
	}
	cleanup := func() {
		if err := staged.Cleanup(); err != nil {
			logger.Warn("failed to remove staging directory", "dir", staged.Dir, "error", err)
		}
	}
	return staged.Dir, cleanup, nil
}

// updateParams controls the operator interaction of one update. A nil
// prompt means nobody can answer questions.
type updateParams struct {
	assumeYes bool
	force     bool
	strict    bool
	prompt    *prompter
}

func runUpdate(ctx context.Context, params updateParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	opts := globalCfg.UpdaterOptions()
	if opts.GameDirectory == "" {
		return fmt.Errorf("%w: provide a game directory", updater.ErrConfigMissing)
	}
	if opts.ChangesFile == "" {
		return fmt.Errorf("%w: provide a changes file", updater.ErrConfigMissing)
	}

	fmt.Printf("Updating %s with files in %s from %s.\n\n",
		filepath.Base(opts.GameDirectory), baseOrNone(opts.UpdateDirectory), filepath.Base(opts.ChangesFile))
	if err := globalCfg.WriteSettings(os.Stdout); err != nil {
		return err
	}
	fmt.Println()

	if !params.assumeYes {
		if params.prompt == nil {
			return fmt.Errorf("standard input is not a terminal: pass --yes to update without confirmation")
		}
		if !params.prompt.Confirm("Continue?") {
			fmt.Println("Cancelled update.")
			return nil
		}
	}

	dir, cleanup, err := prepareUpdateDir(ctx, opts.UpdateDirectory)
	if err != nil {
		return err
	}
	defer cleanup()
	opts.UpdateDirectory = dir

	verifier := newVerifier()
	verifier.SetProgress(progressPrinter(false))

	u := updater.New(verifier, logger, journalOption(), updater.WithConfirmer(params.confirmer()))
	report, err := u.Run(ctx, opts)
	if report != nil {
		if report.PreValidation != nil {
			fmt.Print("Update validation: ")
			printVerification(report.PreValidation)
		}
		printReport(report)
	}
	if err != nil {
		if errors.Is(err, updater.ErrDeclined) {
			fmt.Println("Cancelled update.")
		}
		return err
	}

	if params.strict && report.PostValidation != nil && !report.PostValidation.OK() {
		return fmt.Errorf("game validation failed: %d bad files", len(report.PostValidation.BadFiles))
	}

	fmt.Println("Finished updating.")
	return nil
}

// confirmer answers the prompt shown when staged files fail validation.
// Without an operator and without --force the update stops.
func (p updateParams) confirmer() updater.Confirmer {
	if p.force {
		return updater.ConfirmFunc(func(string) bool { return true })
	}
	if p.prompt != nil {
		return p.prompt
	}
	return nil
}

func baseOrNone(p string) string {
	if p == "" {
		return "None"
	}
	return filepath.Base(p)
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/changeset"
)

func newChangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "Show the changelog of the configured changes file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges()
		},
	}
}

func runChanges() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	cs, err := changeset.Load(globalCfg.Paths.ChangesFile)
	if err != nil {
		return err
	}
	printChanges(cs)
	return nil
}

func printChanges(cs *changeset.ChangeSet) {
	fmt.Println(headColor("Changes for %s (%s):", cs.Name, cs.App))
	fmt.Printf("%-20s %s+\n", "Initial Build:", cs.InitialBuild)
	fmt.Printf("%-20s %s\n", "Final Build:", cs.FinalBuild)
	fmt.Printf("%-20s %s\n", "Depot:", cs.Depot)
	fmt.Printf("%-20s %s\n", "Manifest:", cs.Manifest)

	section := func(title, mark string, paint func(string, ...any) string, paths []string) {
		if len(paths) == 0 {
			return
		}
		lines := make([]string, len(paths))
		for i, p := range paths {
			lines[i] = paint("  %s %s", mark, p)
		}
		fmt.Printf("%s\n%s\n", title, strings.Join(lines, "\n"))
	}
	section("Added:", "+", okColor, cs.Added)
	section("Removed:", "-", badColor, cs.Removed)
	section("Modified:", "~", warnColor, cs.Modified)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/store"
)

var (
	historyLimit int
	historyRunID int64
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past updates and validations",
		Example: `  depotpatch history
  depotpatch history --limit 5
  depotpatch history --run 12`,
		Args: cobra.NoArgs,
		RunE: historyCmdRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to list")
	cmd.Flags().Int64Var(&historyRunID, "run", 0, "show the file actions of one update run")

	return cmd
}

func historyCmdRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("update history is disabled")
	}
	if historyRunID != 0 {
		return printRunDetail(globalStore, historyRunID)
	}
	return printHistory(globalStore, historyLimit)
}

func printHistory(st *store.Store, limit int) error {
	runs, err := st.ListUpdateRuns(limit)
	if err != nil {
		return err
	}
	verifications, err := st.ListVerifications(limit)
	if err != nil {
		return err
	}

	fmt.Println(headColor("Updates:"))
	if len(runs) == 0 {
		fmt.Println("  No updates recorded.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tSTARTED\tBUILDS\tSTATUS\tCOPIED\tREMOVED\tFAILED\tSIZE")
		for _, r := range runs {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID, r.StartTime.Format(time.DateTime), builds(r), statusText(r.Status),
				r.FilesCopied, r.FilesRemoved, r.FilesFailed, humanize.Bytes(uint64(r.BytesCopied)))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Println(headColor("Validations:"))
	if len(verifications) == 0 {
		fmt.Println("  No validations recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tRUN\tSCOPE\tDIRECTORY\tCHECKED\tBAD")
	for _, v := range verifications {
		run := "-"
		if v.RunID != 0 {
			run = fmt.Sprint(v.RunID)
		}
		bad := fmt.Sprint(len(v.BadFiles))
		if len(v.BadFiles) > 0 {
			bad = badColor("%s", bad)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\n",
			humanize.Time(v.CreatedAt), run, v.Scope, v.Directory, v.Total, bad)
	}
	return w.Flush()
}

func printRunDetail(st *store.Store, id int64) error {
	run, err := st.GetUpdateRun(id)
	if err != nil {
		return err
	}
	actions, err := st.ListFileActions(id)
	if err != nil {
		return err
	}

	fmt.Printf("Update %d: %s\n", run.ID, statusText(run.Status))
	fmt.Printf("  Changes:  %s (%s)\n", run.ChangeSetName, builds(*run))
	fmt.Printf("  Game:     %s\n", run.GameDirectory)
	fmt.Printf("  Update:   %s\n", run.UpdateDirectory)
	fmt.Printf("  Started:  %s\n", run.StartTime.Format(time.DateTime))
	if !run.EndTime.IsZero() {
		fmt.Printf("  Duration: %s\n", run.EndTime.Sub(run.StartTime).Round(time.Millisecond))
	}
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:    %s\n", badColor("%s", run.ErrorMessage))
	}

	if len(actions) == 0 {
		fmt.Println("  No file actions recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  OP\tPATH\tDETAIL")
	for _, a := range actions {
		detail := a.BackupPath
		switch {
		case a.Error != "":
			detail = badColor("%s", a.Error)
		case a.Op == "copy":
			detail = humanize.Bytes(uint64(a.Bytes))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", a.Op, a.Path, detail)
	}
	return w.Flush()
}

func builds(r store.UpdateRun) string {
	if r.InitialBuild == "" && r.FinalBuild == "" {
		return "-"
	}
	return r.InitialBuild + " -> " + r.FinalBuild
}

func statusText(status string) string {
	switch status {
	case "done":
		return okColor("%s", status)
	case "aborted":
		return badColor("%s", status)
	}
	return warnColor("%s", status)
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/BadgerOps/depotpatch/internal/config"
	"github.com/BadgerOps/depotpatch/internal/updater"
	"github.com/BadgerOps/depotpatch/internal/verify"
)

// Color helpers. fatih/color disables them when stdout is not a terminal.
var (
	okColor   = color.New(color.FgGreen).SprintfFunc()
	badColor  = color.New(color.FgRed, color.Bold).SprintfFunc()
	warnColor = color.New(color.FgYellow).SprintfFunc()
	headColor = color.New(color.Bold).SprintfFunc()
)

// stdinIsTerminal reports whether answers can be read from an operator.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// prompter reads operator answers. The shell and the confirmations share
// one so buffered input is never lost between them.
type prompter struct {
	in *bufio.Reader
}

func newPrompter(r io.Reader) *prompter {
	return &prompter{in: bufio.NewReader(r)}
}

var console = newPrompter(os.Stdin)

// ask prints prompt and returns the trimmed answer line. io.EOF is
// returned once input is exhausted.
func (p *prompter) ask(prompt string) (string, error) {
	fmt.Print(prompt + " ")
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm implements updater.Confirmer. Anything but a yes declines.
func (p *prompter) Confirm(prompt string) bool {
	answer, err := p.ask(prompt + " [y/N]:")
	if err != nil {
		return false
	}
	yes, err := config.ParseBool(answer)
	return err == nil && yes
}

func statusLabel(s verify.Status) string {
	switch s {
	case verify.StatusMatched:
		return okColor("Ok.")
	case verify.StatusMismatched:
		return badColor("Hash mismatch.")
	case verify.StatusMissing:
		return badColor("Missing.")
	}
	return string(s)
}

// progressPrinter prints every checked file. Matches are only shown when
// verbose is set.
func progressPrinter(verbose bool) verify.ProgressFn {
	return func(checked, total int, path string, status verify.Status) {
		if status == verify.StatusSkipped || (status == verify.StatusMatched && !verbose) {
			return
		}
		fmt.Printf("[%d/%d] %s %s\n", checked, total, path, statusLabel(status))
	}
}

func printVerification(r *verify.Result) {
	line := fmt.Sprintf("%d files checked, %d successes, %d mismatches, %d missing.",
		r.Total, r.Matched, r.Mismatched, r.Missing)
	if r.OK() {
		fmt.Println(okColor("%s", line))
		return
	}
	fmt.Println(badColor("%s", line))
	fmt.Printf("Bad files:\n  %s\n", strings.Join(r.BadFiles, "\n  "))
}

func printReport(r *updater.Report) {
	fmt.Println()
	fmt.Println(headColor("=== UPDATE SUMMARY ==="))
	if r.Phase == updater.PhaseDone {
		fmt.Printf("Outcome:        %s\n", okColor("done"))
	} else {
		fmt.Printf("Outcome:        %s (%s)\n", badColor("aborted"), r.AbortReason)
	}
	fmt.Printf("Copied:         %d (%s)\n", r.Copied, humanize.Bytes(uint64(r.BytesCopied)))
	fmt.Printf("Removed:        %d\n", r.Removed)
	fmt.Printf("Backed up:      %d\n", r.BackedUp)
	if r.AlreadyAbsent > 0 {
		fmt.Printf("Already absent: %d\n", r.AlreadyAbsent)
	}
	if r.Ignored > 0 {
		fmt.Printf("Ignored:        %d\n", r.Ignored)
	}
	if !r.EndTime.IsZero() {
		fmt.Printf("Duration:       %s\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	}

	if len(r.Failed) > 0 {
		fmt.Println(badColor("Failed files: %d", len(r.Failed)))
		for _, f := range r.Failed {
			fmt.Printf("  - %s (%s): %s\n", f.Path, f.Op, f.Error)
		}
	}
	if r.PostValidation != nil {
		fmt.Print("Game validation: ")
		printVerification(r.PostValidation)
	}
	for _, w := range r.Warnings {
		fmt.Println(warnColor("warning: %s", w))
	}
}

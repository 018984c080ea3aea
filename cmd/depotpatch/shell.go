package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/config"
)

const documentationURL = "https://reddiepoint.github.io/RedAlt-SteamUp-Documentation/using-the-installer.html"

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive prompt",
		Long: `Start an interactive prompt. Settings changed with "set" last for the
session only; use "depotpatch config set" to save them.

The value given to "set" is the rest of the line with double quotes
removed, so Windows paths can be typed as they are:
set game_directory "C:\Games\Red Alert"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), console)
		},
	}
}

var shellHelp = map[string]string{
	"changes":                   "Show the changelog.",
	"exit":                      "Exit the program.",
	"help":                      "Show this list of commands.",
	"set <field> <value>":       `Set the given field to the given value. To see available fields, type "settings".`,
	"settings":                  "Get the current settings.",
	"update":                    "Update the game files.",
	`validate <"update"|"game">`: "Validate the update files or the game files.",
}

func runShell(ctx context.Context, p *prompter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	fmt.Printf("Enter %q to get a list of commands. Enter %q to update the game files.\n", "help", "update")
	fmt.Printf("For more information, see %s.\n\n", documentationURL)
	fmt.Println("Current settings:")
	if err := globalCfg.WriteSettings(os.Stdout); err != nil {
		return err
	}

	for {
		line, err := p.ask(">>")
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		done, err := shellExec(ctx, p, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, badColor("Error: %v", err))
		}
		if done {
			return nil
		}
	}
}

// shellExec runs one prompt line and reports whether the shell should exit.
func shellExec(ctx context.Context, p *prompter, line string) (bool, error) {
	name, rest := cutField(line)
	if name == "set" {
		return false, shellSet(rest)
	}

	args, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parsing command: %w", err)
	}
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "exit", "quit":
		return true, nil
	case "help":
		printShellHelp()
	case "changes":
		return false, runChanges()
	case "settings":
		return false, globalCfg.WriteSettings(os.Stdout)
	case "update":
		return false, runUpdate(ctx, updateParams{prompt: p})
	case "validate":
		if len(args) < 2 {
			return false, errors.New("enter the directory you want to validate")
		}
		return false, runValidate(ctx, args[1], false)
	default:
		return false, fmt.Errorf("command not recognised, type %q for a list of commands", "help")
	}
	return false, nil
}

func printShellHelp() {
	names := make([]string, 0, len(shellHelp))
	for name := range shellHelp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-28s %s\n", name, shellHelp[name])
	}
}

// shellSet applies "set <field> <value>" for the session. The value is the
// raw rest of the line, so backslashes in Windows paths survive.
func shellSet(args string) error {
	field, value := cutField(args)
	if field == "" {
		return errors.New("enter a field")
	}
	if value == "" {
		return errors.New("enter a value")
	}
	key, err := config.ParseKey(field)
	if err != nil {
		return err
	}
	if err := globalCfg.Set(key, value); err != nil {
		return err
	}
	return globalCfg.WriteSettings(os.Stdout)
}

// cutField splits off the first whitespace-separated word of s.
func cutField(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

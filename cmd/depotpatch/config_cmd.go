package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/depotpatch/internal/config"
)

var configShowYAML bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage depotpatch configuration. Subcommands allow viewing and modifying
configuration settings.`,
		Example: `  depotpatch config show
  depotpatch config set game_directory "/games/Red Alert"`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the settings an update would use: the config file with command-line
overrides and discovered paths applied.`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	cmd.Flags().BoolVar(&configShowYAML, "yaml", false, "print the full configuration as YAML")

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if configShowYAML {
		data, err := yaml.Marshal(globalCfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	source := cfgPath
	if source == "" {
		source = "defaults"
	}
	fmt.Printf("Current settings (from %s):\n", source)
	return globalCfg.WriteSettings(os.Stdout)
}

func newConfigSetCmd() *cobra.Command {
	keys := make([]string, 0, len(config.Keys()))
	for _, k := range config.Keys() {
		keys = append(keys, k.String())
	}

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value and write it back to the config file. When no
config file exists yet, one is created in the user config directory.

Paths must exist. Booleans accept true/t/1/yes/y and false/f/0/no/n.`,
		Example: `  depotpatch config set changes_file ./changes.json
  depotpatch config set validate_game_files false
  depotpatch config set workers 8`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: keys,
		RunE:      configSetRun,
	}

	return cmd
}

func configSetRun(cmd *cobra.Command, args []string) error {
	key, err := config.ParseKey(args[0])
	if err != nil {
		return err
	}

	target := cfgPath
	if target == "" {
		target, err = config.UserConfigPath()
		if err != nil {
			return fmt.Errorf("locating config file: %w", err)
		}
	}

	// Edit the file as written, without discovered paths or flag overrides.
	fileCfg, err := config.Load(target)
	if errors.Is(err, fs.ErrNotExist) {
		fileCfg = config.DefaultConfig()
	} else if err != nil {
		return err
	}

	if err := fileCfg.Set(key, args[1]); err != nil {
		return err
	}
	if err := fileCfg.Save(target); err != nil {
		return err
	}
	if globalCfg != nil {
		_ = globalCfg.Set(key, args[1])
	}

	logger.Info("configuration updated", "key", key, "file", target)
	fmt.Printf("%s = %s\n", key, fileCfg.Get(key))
	return nil
}

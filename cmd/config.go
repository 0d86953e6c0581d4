package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/VictorNanka/gemini-cli-mcp/internal/config"
	"github.com/VictorNanka/gemini-cli-mcp/internal/flags"
	"github.com/VictorNanka/gemini-cli-mcp/internal/paths"
)

var (
	configInitForce bool
	configBinary    string
	configTimeout   time.Duration
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the config file",
	// A broken config must not stop the commands that repair it.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configErr != nil {
			return configErr
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configSetGeminiCmd = &cobra.Command{
	Use:   "set-gemini",
	Short: "Change the Gemini binary or timeout",
	Long: `Update the gemini section of the config file. A running server picks up
the change without a restart.

Example:
  gemini-cli-mcp config set-gemini --timeout 10m
  gemini-cli-mcp config set-gemini --binary /opt/homebrew/bin/gemini`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		g := cfg.Gemini
		if cmd.Flags().Changed("binary") {
			g.Binary = configBinary
		}
		if cmd.Flags().Changed("timeout") {
			g.Timeout = configTimeout
		}
		path := configPath()
		if err := config.SaveGemini(path, g); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated gemini section in %s\n", path)
		return nil
	},
}

var configFlagCmd = &cobra.Command{
	Use:   "flag NAME on|off",
	Short: "Turn a feature flag on or off",
	Long: fmt.Sprintf(`Turn a feature flag on or off. Known flags: %s.

Example:
  gemini-cli-mcp config flag display-hint off`, strings.Join(knownFlags(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if _, ok := flags.Defaults()[name]; !ok {
			return fmt.Errorf("unknown flag %q (known: %s)", name, strings.Join(knownFlags(), ", "))
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}

		next := make(map[string]bool, len(cfg.Flags)+1)
		for k, v := range cfg.Flags {
			next[k] = v
		}
		next[name] = on

		path := configPath()
		if err := config.SaveFlags(path, next); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %t\n", name, on)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetGeminiCmd, configFlagCmd)

	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configSetGeminiCmd.Flags().StringVar(&configBinary, "binary", "", "Gemini CLI executable name or path")
	configSetGeminiCmd.Flags().DurationVar(&configTimeout, "timeout", 0, "maximum run time, 0 for none")
}

// configPath is the file config commands write to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return paths.DefaultConfigFile()
}

func knownFlags() []string {
	names := make([]string, 0)
	for name := range flags.Defaults() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, errors.New("value must be on or off")
}

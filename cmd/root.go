package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VictorNanka/gemini-cli-mcp/internal/config"
	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/paths"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	configErr error

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "gemini-cli-mcp",
	Short: "MCP server that delegates tasks to the Gemini CLI",
	Long: `gemini-cli-mcp is a Model Context Protocol server exposing a single "task"
tool. Each call runs the Gemini CLI headless in the requested directory,
streams its events back to the client as log notifications and returns the
final answer.

Without a subcommand the server speaks MCP over stdin/stdout.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
	RunE:              runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/gemini-cli-mcp/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write a debug log (also GEMINI_MCP_LOG_DEBUG)")

	// Bind flags to viper
	_ = viper.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(paths.ConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	cfg, configErr = config.Load(viper.GetViper())
	if configErr != nil {
		cfg = config.Defaults()
		cfg.Resolve()
	}
}

// setup rejects a broken config and starts the debug log.
func setup(_ *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}
	if !cfg.Log.Debug {
		return nil
	}

	cleanup, err := log.Init(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	log.Info(log.CatConfig, "gemini-cli-mcp starting",
		"version", version,
		"config", viper.ConfigFileUsed(),
		"logPath", cfg.Log.File)
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

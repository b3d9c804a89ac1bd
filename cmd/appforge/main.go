package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codefionn/appforge/internal/config"
	"github.com/codefionn/appforge/internal/logger"
)

var (
	configFile string
	logLevel   string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "appforge",
	Short: "Build apps by chatting with an AI agent",
	Long: `appforge serves an HTTP API where a user describes an app in natural
language. An agent streams its reply, writes project files and runs commands
in a per-project sandbox.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON or YAML, defaults to "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
}

// loadConfig reads the env file, the config file and APPFORGE_* overrides,
// then initializes the global logger.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.Path); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("config loaded from %s", path)
	return cfg, nil
}

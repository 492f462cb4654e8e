package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatwebui",
	Short: "chatwebui - streaming chat over a hosted completion API",
	Long: `chatwebui serves a single-page chat UI that streams completions from a hosted
large language model into a per-session transcript.

  chatwebui serve     Start the web interface
  chatwebui chat      Chat in the terminal
  chatwebui models    List the configured models`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <user config dir>/chatwebui/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
}

func main() {
	// A missing .env file is fine, the environment may already carry the keys.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func appDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, "chatwebui")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func loadAppConfig(logger *slog.Logger) (config, error) {
	path, err := configPath()
	if err != nil {
		return config{}, err
	}
	return loadConfig(path, logger)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadAppConfig(newLogger())
		if err != nil {
			return err
		}

		catalog := cfg.catalog()
		out := cmd.OutOrStdout()
		for _, id := range catalog.IDs() {
			info, _ := catalog.Lookup(id)
			fmt.Fprintf(out, "%s\n  Name: %s\n  Developer: %s\n  Max tokens: %d (default %d)\n",
				id, info.Name, info.Developer, info.Tokens, catalog.DefaultBudget(info))
			if info.Description != "" {
				fmt.Fprintf(out, "  Description: %s\n", info.Description)
			}
		}
		return nil
	},
}

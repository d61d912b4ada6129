package main

import (
	"fmt"
	"os"

	"github.com/codefionn/bfrelay/internal/config"
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bfrelay",
	Short: "Multi-client chat relay with a tape-machine transform",
	Long: `bfrelay relays chat between TCP clients. Every chat message travels
encoded by a small tape program, and clients can run their own programs
with the /bf command.

Use 'bfrelay help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON), defaults to "+config.GetConfigPath())

	rootCmd.AddCommand(serveCmd, connectCmd, selftestCmd, auditCmd, statusCmd)
}

// loadConfig reads the config file and applies BFRELAY_* overrides. It
// returns the path it read so callers can watch it.
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

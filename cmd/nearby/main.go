// Command nearby is the CLI entry point.
//
// `nearby hub` runs the rendezvous medium; `nearby peer` joins it, advertises
// and discovers under one service ID, connects to the first endpoint found
// and exchanges text messages with it. Settings come from a TOML file and
// NEARBY_* environment variables (see `nearby config init`).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/1ureka/nearby/internal/config"
	"github.com/1ureka/nearby/internal/util"
)

var version = "dev"

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:           "nearby",
	Short:         "proximity-style endpoint discovery and messaging",
	Long:          `nearby advertises and discovers endpoints under a shared service ID, connects to them and exchanges text payloads through a rendezvous hub`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nearby v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HOME/.config/nearby/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies --debug.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if debugMode || cfg.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

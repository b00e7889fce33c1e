package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1ureka/nearby/internal/config"
	"github.com/1ureka/nearby/internal/util"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "manages the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "writes the default configuration",
	Long:  `writes the built-in defaults to the config file, refusing to overwrite an existing one unless --force is given`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}

		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		util.LogSuccess("wrote %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configInitOut string

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write the effective configuration to a YAML file",
	Long:  "Writes the merged configuration (defaults, config file, environment) to a YAML file as a starting point for edits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configInitOut); err == nil {
			return eris.Errorf("%s already exists, refusing to overwrite", configInitOut)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		if err := os.WriteFile(configInitOut, data, 0o644); err != nil {
			return eris.Wrap(err, "write config file")
		}

		zap.L().Info("config written", zap.String("path", configInitOut))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOut, "out", "config.yaml", "output path")
	rootCmd.AddCommand(configInitCmd)
}

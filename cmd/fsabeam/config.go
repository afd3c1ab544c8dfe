package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fsabeam/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "config.yaml", "Where to write the configuration")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

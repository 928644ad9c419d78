package main

import (
	"github.com/spf13/cobra"

	"github.com/CK6170/Intellispec-go/config"
)

func NewConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Write or print the configuration",
		GroupID: gSetup,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultFile
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, environment and defaults merged)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sketchd/internal/config"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the sketchd configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	// The file may not exist or may be invalid yet.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(cmd.OutOrStdout())
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass(ui.IconOK), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			return err
		}
		shown := cfg
		if shown.API.Token != "" {
			shown.API.Token = "<redacted>"
		}
		if output == outputText {
			output = outputYAML
		}
		return printStructured(output, shown)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().StringP("output", "o", outputYAML, "output format: json or yaml")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

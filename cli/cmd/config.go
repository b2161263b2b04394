package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vidcat/vidcat-stack/cli/pkg/output"
	"github.com/vidcat/vidcat-stack/common/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Service configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective service configuration",
	Long:  "Print the authenticate configuration after defaults and VIDCAT_* overrides, with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("service-config")
		svcCfg, err := config.Read(path)
		if err != nil {
			return err
		}

		if err := svcCfg.Validate(); err != nil {
			output.Warn("%v", err)
		}

		redacted := svcCfg.Redacted()
		if outputFormat(cmd) == "json" {
			return output.JSON(redacted)
		}
		return output.YAML(redacted)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

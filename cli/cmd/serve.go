package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vidcat/vidcat-stack/authenticate/app"
	"github.com/vidcat/vidcat-stack/common/config"
	"github.com/vidcat/vidcat-stack/common/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authenticate service",
	Long:  "Start the authenticate HTTP service in the foreground until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("service-config")
		svcCfg, err := config.Load(path)
		if err != nil {
			return err
		}

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			svcCfg.Server.Port = port
		}

		logger := logging.New(
			logging.ParseLevel(svcCfg.Logging.Level),
			svcCfg.Logging.Format,
		).With(logging.Service("authenticate"))
		logging.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return app.Run(ctx, svcCfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
}

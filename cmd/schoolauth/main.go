package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/SchoolAuth/internal/app"
	"github.com/router-for-me/SchoolAuth/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("schoolauth failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var appCfg config.AppConfig

	rootCmd := &cobra.Command{
		Use:           "schoolauth",
		Short:         "School portal authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&appCfg.ConfigPath, "config", "", "path to config.yaml (defaults to $"+config.ConfigPathEnv+" or ./"+config.DefaultConfigPath+")")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunServer(ctx, appCfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), appCfg); err != nil {
				return err
			}
			log.Info("migration complete")
			return nil
		},
	}

	superuserCmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create the first superuser from FIRST_SUPERUSER_* settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.CreateSuperuser(cmd.Context(), appCfg)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, superuserCmd)
	return rootCmd
}

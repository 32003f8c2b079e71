package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"signoffws/internal/app"
	"signoffws/internal/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "signoffws",
		Short: "Realtime change-notification server for the lab sign-off LMS",
		Long: `signoffws pushes change-log and TA-assignment events to browser
clients over WebSocket. It authenticates against the web tier's session
store and polls the shared database on behalf of each connection.`,
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; the environment may be set directly.
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer log.Sync()

			log.Info("starting signoffws",
				zap.String("version", version),
				zap.String("addr", cfg.ListenAddr()),
				zap.String("driver", cfg.Database.Driver),
				zap.String("session_backend", cfg.Session.Backend))

			application, err := app.New(cfg, log)
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application.Run(ctx)
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "signoffws", version)
		},
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

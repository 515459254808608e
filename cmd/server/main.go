package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiresync/internal/app"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/log"
	"github.com/vovakirdan/wiresync/internal/relay"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wiresync",
		Short:         "Real-time chat and collaborative task list server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newWatchCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info", "console")

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{Addr: addr, LogLevel: logLevel})

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Str("version", version).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting wiresync server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		redisAddr  string
	)

	cmd := &cobra.Command{
		Use:   "watch <room-id>",
		Short: "Print the events a room publishes on the Redis relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New("info", "console")

			if redisAddr == "" {
				cfg, _, err := config.Load(logger, configPath)
				if err != nil {
					return err
				}
				redisAddr = cfg.RedisAddr
			}
			if redisAddr == "" {
				return errors.New("redis address is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := relay.NewRedis(ctx, redisAddr, relay.DefaultPrefix)
			if err != nil {
				return err
			}
			defer r.Close()

			frames, err := r.Subscribe(ctx, args[0])
			if err != nil {
				return err
			}
			logger.Info().Str("room_id", args[0]).Str("redis_addr", redisAddr).Msg("watching room")
			for f := range frames {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", f.Event, f.Data)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (overrides config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

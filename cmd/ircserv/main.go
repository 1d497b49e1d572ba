package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aeolun/ircrelay/pkg/logging"
	"github.com/aeolun/ircrelay/pkg/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ircserv <port> <password>",
		Short: "IRC relay server",
		Long: "ircserv accepts IRC clients on <port> and relays their messages.\n" +
			"An empty <password> disables the connection password.",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				// Bad arguments are usage errors
				cmd.SilenceUsage = false
				return err
			}
			return run(cmd.Context(), configPath, port, args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	return cmd
}

func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: must be a number between 1 and 65535", arg)
	}
	return port, nil
}

func run(parent context.Context, configPath string, port int, password string) error {
	tomlConfig, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg := tomlConfig.ToServerConfig(port, password)

	logger := logging.New(cfg.LogLevel, os.Stderr)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create server")
		return err
	}

	logger.Info().
		Int("port", port).
		Str("config", configPath).
		Str("version", server.Version).
		Msg("starting ircserv")

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

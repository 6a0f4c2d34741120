package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/webssh/gateway/internal/gateway"
	"github.com/webssh/gateway/internal/gwconfig"
	"github.com/webssh/gateway/internal/registry"
)

var (
	configPath string
	listenAddr string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "websshd",
		Short: "Browser-accessible SSH terminal gateway",
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP and websocket server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "websshd.toml", "path to the TOML settings file")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "override the listen address (host:port)")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log output format: console or json")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := gwconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenAddr != "" {
		host, port, splitErr := splitHostPort(listenAddr)
		if splitErr != nil {
			return fmt.Errorf("invalid --addr: %w", splitErr)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}

	setupLogger(cfg.LogLevel, logFormat)

	log.Info().
		Str("addr", cfg.Addr()).
		Str("log_level", cfg.LogLevel).
		Msg("starting websshd")

	reg := registry.New()
	reaper := registry.StartReaper(reg, registry.DefaultMaxIdle, log.Logger)
	defer reaper.Stop()

	gw := gateway.New(reg, cfg.SSHSettings(), cfg.Addr(), log.Logger)
	handler := gateway.WithCORS(gw.Mux())

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down gateway")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	log.Info().Msg("gateway exited")
	return nil
}

func setupLogger(level string, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/hirbodbehnam/wstunnel/internal/backend"
	"github.com/hirbodbehnam/wstunnel/internal/config"
	"github.com/hirbodbehnam/wstunnel/internal/frontend"
	"github.com/hirbodbehnam/wstunnel/internal/logging"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wstunnel",
		Short: "TCP reverse proxy tunneled over WebSocket",
	}

	var configPath string
	var verbose bool

	var tcpListenAddr, wsListenAddr string
	localCmd := &cobra.Command{
		Use:   "local",
		Short: "Run the front: accepts client TCP and exposes /control and /connect to the intermediary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFront(configPath, verbose, tcpListenAddr, wsListenAddr)
		},
	}
	localCmd.Flags().StringVarP(&tcpListenAddr, "tcp-listen-address", "l", "", "Local TCP address clients connect to")
	localCmd.Flags().StringVarP(&wsListenAddr, "cloudflare-listen-address", "c", "", "Address the intermediary reaches for /control and /connect")
	localCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	localCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	localCmd.MarkFlagRequired("tcp-listen-address")
	localCmd.MarkFlagRequired("cloudflare-listen-address")

	var intermediaryURL, forwardAddr string
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the back: dials the intermediary and the origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBack(configPath, verbose, intermediaryURL, forwardAddr)
		},
	}
	serverCmd.Flags().StringVarP(&intermediaryURL, "cloudflare-server-address", "c", "", "Base URL of the intermediary (front's /control and /connect)")
	serverCmd.Flags().StringVarP(&forwardAddr, "forward-address", "f", "", "Origin TCP address to forward to")
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	serverCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	serverCmd.MarkFlagRequired("cloudflare-server-address")
	serverCmd.MarkFlagRequired("forward-address")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wstunnel %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	rootCmd.AddCommand(localCmd, serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(configPath string, verbose bool) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	lj := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File,
		cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays, cfg.Logging.Compress)
	closer := func() {}
	if lj != nil {
		closer = func() { lj.Close() }
	}
	return cfg, closer, nil
}

func shutdownContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()
	return ctx
}

func runFront(configPath string, verbose bool, tcpListenAddr, wsListenAddr string) error {
	cfg, closeLog, err := setupLogging(configPath, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("starting wstunnel front", "version", Version, "tcp_listen", tcpListenAddr, "ws_listen", wsListenAddr)

	ctx := shutdownContext()
	srv := frontend.NewServer(cfg, slog.Default())

	daemon.SdNotify(false, daemon.SdNotifyReady)
	err = srv.Run(ctx, tcpListenAddr, wsListenAddr)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

func runBack(configPath string, verbose bool, intermediaryURL, forwardAddr string) error {
	cfg, closeLog, err := setupLogging(configPath, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("starting wstunnel back", "version", Version, "intermediary", intermediaryURL, "forward", forwardAddr)

	ctx := shutdownContext()
	daemon.SdNotify(false, daemon.SdNotifyReady)
	err = backend.Run(ctx, cfg, intermediaryURL, forwardAddr, slog.Default())
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

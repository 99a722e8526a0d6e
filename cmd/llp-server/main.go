// Package main provides the CLI entry point for the LLP server.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/llp-project/llp/internal/config"
	"github.com/llp-project/llp/internal/endpoint"
	"github.com/llp-project/llp/internal/logging"
	"github.com/llp-project/llp/internal/metrics"
	"github.com/llp-project/llp/internal/transport"
	"github.com/llp-project/llp/internal/tundev"
)

// Version is set at build time via ldflags.
var Version = "dev"

const maxHandshakesPerSecond = 50

func main() {
	rootCmd := &cobra.Command{
		Use:     "llp-server",
		Short:   "LLP server - userspace VPN data-plane server",
		Version: Version,
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(hashCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var tunName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Accept client connections and run the data plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			m := metrics.NewRegistry()
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				if err := m.Register(reg); err != nil {
					return fmt.Errorf("register metrics: %w", err)
				}
				go serveMetrics(cfg.Metrics.Address, reg, logger)
			}

			tun, err := tundev.Open(tunName)
			if err != nil {
				return fmt.Errorf("open tun: %w", err)
			}
			defer tun.Close()
			logger.Info("tun device opened", "name", tun.Name())

			tr, err := newTransport(cfg.Listen.Transport)
			if err != nil {
				return err
			}
			defer tr.Close()

			listenOpts := transport.DefaultListenOptions()
			listenOpts.Path = cfg.Listen.WSPath
			if cfg.Listen.TLSCertFile != "" {
				cert, err := cfg.Listen.LoadTLSCertificate()
				if err != nil {
					return fmt.Errorf("load tls certificate: %w", err)
				}
				listenOpts.TLSConfig = tlsConfigWithALPN(cert)
			}

			listener, err := tr.Listen(cfg.Listen.Address, listenOpts)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Listen.Address, err)
			}
			defer listener.Close()
			logger.Info("listening", "address", cfg.Listen.Address, "transport", cfg.Listen.Transport)

			server := endpoint.NewServerWithLimits(listener, tun, logger, m, maxHandshakesPerSecond, cfg.Session.Limits(), cfg.Session.HandshakeTimeout)

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("shutting down")
				cancel()
			}()

			return server.Serve(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./llp-server.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&tunName, "tun", "", "TUN interface name (empty lets the OS choose)")

	return cmd
}

func hashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [token]",
		Short: "Generate a bcrypt hash for auth.token_hash",
		Long: `Generate a bcrypt hash of an administration token for use as
auth.token_hash in the server configuration file.

If no token is given as an argument, you will be prompted to enter one
interactively (recommended, since an argument is visible in shell
history).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) > 0 {
				token = args[0]
			} else {
				fmt.Print("Enter token: ")
				tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = string(tokenBytes)
			}
			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}

			hash, err := config.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	return cmd
}

func tlsConfigWithALPN(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{transport.ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}
}

func newTransport(name string) (transport.Transport, error) {
	switch name {
	case "", "quic":
		return transport.NewQUICTransport(), nil
	case "ws":
		return transport.NewWebSocketTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

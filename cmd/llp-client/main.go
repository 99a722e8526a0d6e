// Package main provides the CLI entry point for the LLP client.
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/llp-project/llp/internal/config"
	"github.com/llp-project/llp/internal/endpoint"
	"github.com/llp-project/llp/internal/logging"
	"github.com/llp-project/llp/internal/metrics"
	"github.com/llp-project/llp/internal/transport"
	"github.com/llp-project/llp/internal/tundev"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "llp-client",
		Short:   "LLP client - userspace VPN data-plane client",
		Version: Version,
	}
	rootCmd.AddCommand(runCmd())

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
		Short: "Connect to a server and run the data plane",
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

			tr, err := newTransport(cfg.Peer.Transport)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("shutting down")
				cancel()
			}()
			defer cancel()

			return runWithReconnect(ctx, cfg, tr, tun, logger, m)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./llp-client.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&tunName, "tun", "", "TUN interface name (empty lets the OS choose)")

	return cmd
}

// runWithReconnect dials, handshakes, and runs the data plane, retrying
// on a persistent connection error up to cfg.Peer.ReconnectAttempts
// times with a fixed cfg.Peer.ReconnectDelay backoff between attempts.
func runWithReconnect(ctx context.Context, cfg config.Config, tr transport.Transport, tun *tundev.Device, logger *slog.Logger, m *metrics.Registry) error {
	attempts := cfg.Peer.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.Peer.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt > 1 {
			logger.Info("reconnecting", "attempt", attempt, "of", attempts, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}

		err := connectAndRun(ctx, cfg, tr, tun, logger, m)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		logger.Warn("connection ended", logging.KeyError, err)
		lastErr = err
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// connectAndRun dials the server once, performs the handshake under the
// configured handshake deadline, and runs the data plane until either
// side ends the connection or ctx is canceled.
func connectAndRun(ctx context.Context, cfg config.Config, tr transport.Transport, tun *tundev.Device, logger *slog.Logger, m *metrics.Registry) error {
	dialOpts := transport.DefaultDialOptions()
	dialOpts.InsecureSkipVerify = cfg.Peer.InsecureSkipVerify
	dialOpts.FingerprintPreset = cfg.Peer.FingerprintPreset
	if cfg.Peer.ServerName != "" {
		dialOpts.TLSConfig = &tls.Config{
			ServerName: cfg.Peer.ServerName,
			NextProtos: []string{transport.ALPNProtocol},
			MinVersion: tls.VersionTLS13,
		}
	}

	conn, err := tr.Dial(ctx, cfg.Peer.Address, dialOpts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Peer.Address, err)
	}
	defer conn.Close()

	client := endpoint.NewClient(conn, tun, cfg.Mimicry.MimicryProfile(), logger, m)

	handshakeTimeout := cfg.Session.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = endpoint.DefaultHandshakeTimeout
	}
	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, handshakeTimeout)
	err = client.Handshake(handshakeCtx)
	handshakeCancel()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	logger.Info("connected", "address", cfg.Peer.Address, "transport", cfg.Peer.Transport)

	runErr := client.Run(ctx)
	logger.Info("session ended", "stats", client.Stats())
	if ctx.Err() != nil {
		return nil
	}
	return runErr
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

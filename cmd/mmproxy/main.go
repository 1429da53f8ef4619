// Command mmproxy is a transparent Layer 4 proxy that decodes an
// HAProxy PROXY protocol header from each incoming connection and
// forwards traffic to a backend from a spoofed source address, so the
// backend sees the original client's IP and port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/mmproxy/internal/config"
	"github.com/mastercactapus/mmproxy/internal/logging"
	"github.com/mastercactapus/mmproxy/internal/subnet"
	"github.com/mastercactapus/mmproxy/internal/tcpforward"
	"github.com/mastercactapus/mmproxy/internal/udpforward"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}
	var allowedSubnetsFile, protocol string

	cmd := &cobra.Command{
		Use:   "mmproxy",
		Short: "Transparent PROXY-protocol-aware Layer 4 forwarder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Protocol = config.Protocol(protocol)
			return run(cmd.Context(), cfg, allowedSubnetsFile)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen-addr", "0.0.0.0:8443", "address to listen for PROXY-protocol connections on")
	flags.StringVar(&cfg.IPv4Forward, "ipv4-fwd", "127.0.0.1:443", "IPv4 backend address to forward to")
	flags.StringVar(&cfg.IPv6Forward, "ipv6-fwd", "[::1]:443", "IPv6 backend address to forward to")
	flags.StringVar(&allowedSubnetsFile, "allowed-subnets", "", "path to a file of CIDRs allowed to send the PROXY header; empty means allow all")
	flags.IntVar(&cfg.CloseAfter, "close-after", 60, "UDP session inactivity timeout, in seconds")
	flags.IntVar(&cfg.Mark, "mark", 0, "SO_MARK to set on upstream sockets (required, must be > 0)")
	flags.IntVar(&cfg.Listeners, "listeners", 1, "number of SO_REUSEPORT listeners sharing listen-addr; this process opens one socket and sets SO_REUSEPORT on it when the value is above 1")
	flags.StringVar(&protocol, "protocol", string(config.ProtocolTCP), "protocol to forward: tcp or udp")
	logLevel := envOr("MMPROXY_LOG_LEVEL", "info")
	flags.StringVar(&cfg.LogLevel, "log-level", logLevel, "log level: debug, info, warn, error")

	cmd.MarkFlagRequired("mark")

	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, cfg *config.Config, allowedSubnetsFile string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	var matcher *subnet.Matcher
	if allowedSubnetsFile != "" {
		nets, err := config.LoadAllowedSubnets(allowedSubnetsFile)
		if err != nil {
			return err
		}
		matcher = subnet.New(nets)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Protocol {
	case config.ProtocolTCP:
		fwd, err := tcpforward.New(cfg, log, matcher)
		if err != nil {
			return err
		}
		return fwd.Run(ctx)
	case config.ProtocolUDP:
		fwd, err := udpforward.New(cfg, log, matcher)
		if err != nil {
			return err
		}
		return fwd.Run(ctx)
	default:
		return fmt.Errorf("mmproxy: unsupported protocol %q", cfg.Protocol)
	}
}


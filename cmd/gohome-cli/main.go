package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gohome-melcloud/internal/config"
)

var (
	addrFlag    string
	jsonOutput  bool
	callTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "gohome-cli",
	Short: "Client for a running gohome daemon",
	Long: `gohome-cli talks to the gohome gRPC endpoint.

The address comes from --addr, then GOHOME_GRPC_ADDR, then core.grpc_addr of
the first readable config file, then gohome:9000.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "gRPC address of the daemon")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON to stdout")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second, "Per-command timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dial opens a client connection and a context bounded by --timeout.
func dial(cmd *cobra.Command) (context.Context, *grpc.ClientConn, func(), error) {
	conn, err := grpc.NewClient(resolveAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	return ctx, conn, func() {
		cancel()
		_ = conn.Close()
	}, nil
}

func resolveAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if value := os.Getenv("GOHOME_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "gohome:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}

// addrFromConfig maps a wildcard listen address to loopback.
func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	addr := cfg.Core.GRPCAddr
	for _, wildcard := range []string{"0.0.0.0:", "[::]:", ":"} {
		if strings.HasPrefix(addr, wildcard) {
			return "127.0.0.1:" + strings.TrimPrefix(addr, wildcard)
		}
	}
	return addr
}

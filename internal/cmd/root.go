// Package cmd implements the CLI surface for tinygate: a single daemon
// process driven by --config, --daemon, --debug, and --version.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/version"
)

var (
	configPath string
	daemonFlag bool
	debugFlag  bool
)

// rootCmd is tinygate's only command; it both defines the flags and runs
// the proxy, matching the single-binary-daemon shape of the wire
// protocol's CLI surface.
var rootCmd = &cobra.Command{
	Use:   "tinygate",
	Short: "A lightweight HTTP/HTTPS forward proxy",
	Long: `tinygate is a lightweight forward proxy daemon.

It accepts client connections, enforces access-control and Basic
authentication policy, filters request URIs against a block list, and
relays traffic to origin servers, including CONNECT tunneling for
TLS pass-through.`,
	Version: version.Version,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := clog.Configure("", debugFlag, daemonFlag); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = clog.Close() //nolint:errcheck // clog's own close
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/tinyproxy/tinyproxy.conf", "path to the tinygate configuration file")
	rootCmd.PersistentFlags().BoolVar(&daemonFlag, "daemon", false, "daemon mode: suppress log output to stderr (the process does not detach)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// Execute runs the root command and returns any error.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/ssh-agentd/internal/config"
)

var (
	cfgFile     string
	flagSocket  string
	flagMaxLen  uint32
	flagLevel   string
	flagMetrics string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "ssh-agentd",
	Short: "ssh-agentd - an SSH authentication agent",
	Long: `ssh-agentd implements the SSH-1 and SSH-2 agent protocols: it
holds private keys in memory and services sign and list-identity
requests from clients over a Unix domain socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "",
		"Unix domain socket path (overrides config)")
	rootCmd.PersistentFlags().Uint32Var(&flagMaxLen, "max-msg-len", 0,
		"maximum accepted message length in bytes (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "log-level", "",
		"log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagMetrics, "metrics-addr", "",
		"bind address for the Prometheus metrics endpoint (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the effective configuration from the config file plus
// any persistent flags the user set, flags taking precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flagSocket != "" {
		cfg.Listener.SocketPath = flagSocket
	}
	if flagMaxLen != 0 {
		cfg.Listener.MaxMessageLength = flagMaxLen
	}
	if flagLevel != "" {
		cfg.Logging.Level = flagLevel
	}
	if flagMetrics != "" {
		cfg.Metrics.Addr = flagMetrics
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// handleError prints an error to stderr and exits with code 1.
func handleError(err error) {
	os.Stderr.WriteString("ssh-agentd: " + err.Error() + "\n")
	os.Exit(1)
}

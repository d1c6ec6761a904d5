package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/needle/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run needle daemon in foreground",
	Long: `Run the needle daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Resolve the gateway and local host pairs
  4. Open the capture source and the transmit sink
  5. Register builtin hooks and autoload hook libraries
  6. Start UDS server for CLI control and the Kafka consumer (if configured)
  7. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file)")
}

func runDaemon() error {
	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return d.Run()
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/needle/internal/config"
	"firestige.xyz/needle/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the needle daemon",
	Long: `Stop the needle daemon gracefully.

The shutdown request is sent over the Unix Domain Socket. The daemon stops
capture, waits for every module to exit, and removes its socket and PID file.
If the socket is unreachable, SIGTERM is sent to the process in the PID file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runStop(cmd.Context(), client, stopPIDFile(), os.Stdout); err != nil {
			exitWithError("failed to stop daemon", err)
		}
	},
}

var stopPIDPath string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDPath, "pidfile", "p", "",
		"PID file used when the socket is unreachable (default: control.pid_file)")
}

func stopPIDFile() string {
	if stopPIDPath != "" {
		return stopPIDPath
	}
	if cfg, err := config.Load(configFile); err == nil {
		return cfg.Control.PIDFile
	}
	return ""
}

func runStop(ctx context.Context, client ClientInterface, pidPath string, w io.Writer) error {
	err := client.Shutdown(ctx)
	if err == nil {
		return success(w, "Shutdown requested")
	}
	if pidPath == "" {
		return err
	}

	pid, serr := daemon.SignalDaemon(pidPath, syscall.SIGTERM)
	if serr != nil {
		return fmt.Errorf("%w (signal fallback: %v)", err, serr)
	}
	return success(w, "Socket unreachable, sent SIGTERM to pid %d", pid)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the needle daemon for its overall status.

Shows: version, PID, uptime, and the number of hooks and running modules.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runStatus(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("daemon is not running or socket is inaccessible", err)
		}
	},
}

func runStatus(ctx context.Context, client ClientInterface, w io.Writer) error {
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	return render(w, outputFormat, st, func(w io.Writer) error {
		uptime := time.Duration(st.UptimeSec) * time.Second
		_, err := fmt.Fprintf(w, "needle %s (pid %d)\n  uptime:  %s\n  hooks:   %d\n  modules: %d\n",
			st.Version, st.PID, uptime, st.Hooks, st.Modules)
		return err
	})
}

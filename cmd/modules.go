package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List running modules",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runModules(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("failed to list modules", err)
		}
	},
}

// moduleCmd groups per-module operations.
var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage running modules",
}

var moduleStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running module",
	Long: `Signal a module to stop and wait for its worker to exit. The module's own
terminal error, if any, is reported but does not fail the command.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runModuleStop(cmd.Context(), client, args[0], os.Stdout); err != nil {
			exitWithError(fmt.Sprintf("failed to stop module %s", args[0]), err)
		}
	},
}

func init() {
	moduleCmd.AddCommand(moduleStopCmd)
}

func runModules(ctx context.Context, client ClientInterface, w io.Writer) error {
	modules, err := client.Modules(ctx)
	if err != nil {
		return err
	}
	return render(w, outputFormat, modules, func(w io.Writer) error {
		if len(modules) == 0 {
			_, err := fmt.Fprintln(w, "No running modules.")
			return err
		}
		t := newTable("NAME", "HOOK", "STATE", "FILTER", "UPTIME", "ERROR")
		for _, m := range modules {
			t.Row(m.Name, m.Hook, string(m.State), m.Filter,
				time.Since(m.StartedAt).Truncate(time.Second).String(), m.Error)
		}
		return printTable(w, t)
	})
}

func runModuleStop(ctx context.Context, client ClientInterface, name string, w io.Writer) error {
	res, err := client.StopModule(ctx, name)
	if err != nil {
		return err
	}
	return render(w, outputFormat, res, func(w io.Writer) error {
		if res.Error != "" {
			_, err := fmt.Fprintf(w, "Module %s stopped with error: %s\n", res.Name, res.Error)
			return err
		}
		return success(w, "Module %s stopped", res.Name)
	})
}

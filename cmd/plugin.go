package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage hook libraries",
}

var pluginLoadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "Load a hook library into the running daemon",
	Long: `Load a shared object built with -buildmode=plugin. Hooks whose names are
already registered are reported as collisions; the rest are registered.

Examples:
  needle plugin load /usr/lib/needle/plugins/example.so`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runPluginLoad(cmd.Context(), client, args[0], os.Stdout); err != nil {
			exitWithError(fmt.Sprintf("failed to load plugin %s", args[0]), err)
		}
	},
}

func init() {
	pluginCmd.AddCommand(pluginLoadCmd)
}

func runPluginLoad(ctx context.Context, client ClientInterface, path string, w io.Writer) error {
	// The daemon resolves relative paths against its own working directory.
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	res, err := client.LoadPlugin(ctx, path)
	if err != nil {
		return err
	}
	return render(w, outputFormat, res, func(w io.Writer) error {
		if err := success(w, "Loaded %s: %d hook(s) registered", res.Path, len(res.Applied)); err != nil {
			return err
		}
		if len(res.Applied) > 0 {
			fmt.Fprintf(w, "  hooks: %s\n", strings.Join(res.Applied, ", "))
		}
		for _, c := range res.Collisions {
			fmt.Fprintf(w, "  collision: %s\n", c)
		}
		return nil
	})
}

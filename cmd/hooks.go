package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "List registered hooks",
	Long:  `List the hooks registered in the daemon, in registration order.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runHooks(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("failed to list hooks", err)
		}
	},
}

func runHooks(ctx context.Context, client ClientInterface, w io.Writer) error {
	hooks, err := client.Hooks(ctx)
	if err != nil {
		return err
	}
	return render(w, outputFormat, hooks, func(w io.Writer) error {
		if len(hooks) == 0 {
			_, err := fmt.Fprintln(w, "No hooks registered.")
			return err
		}
		t := newTable("NAME", "SCOPE", "USAGE")
		for _, h := range hooks {
			t.Row(h.Name, h.Scope, h.Usage)
		}
		return printTable(w, t)
	})
}

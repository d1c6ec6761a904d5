package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <hook> [args...]",
	Short: "Invoke a registered hook",
	Long: `Invoke a hook by name. Everything after the hook name is passed to it verbatim.

Examples:
  needle invoke who
  needle invoke sniff filter=payload buffer=512
  needle invoke stop timeout=2s sniff_0`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runInvoke(cmd.Context(), client, args[0], args[1:], os.Stdout); err != nil {
			exitWithError(fmt.Sprintf("invoke %s failed", args[0]), err)
		}
	},
}

func init() {
	// Flags after the hook name belong to the hook.
	invokeCmd.Flags().SetInterspersed(false)
}

func runInvoke(ctx context.Context, client ClientInterface, name string, args []string, w io.Writer) error {
	res, err := client.Invoke(ctx, name, args)
	if err != nil {
		return err
	}
	return render(w, outputFormat, res, func(w io.Writer) error {
		if !res.Started {
			return success(w, "%s completed", res.Hook)
		}
		return success(w, "%s started module %s", res.Hook, res.Module)
	})
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/needle/internal/command"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Show the gateway, local and discovered hosts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		defer client.Close()
		if err := runHosts(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("failed to query hosts", err)
		}
	},
}

func runHosts(ctx context.Context, client ClientInterface, w io.Writer) error {
	st, err := client.HostStatus(ctx)
	if err != nil {
		return err
	}
	return render(w, outputFormat, st, func(w io.Writer) error {
		fmt.Fprintf(w, "Gateway: %s\n", pairText(st.Gateway))
		fmt.Fprintf(w, "Self:    %s\n", pairText(st.Self))
		if len(st.Hosts) == 0 {
			_, err := fmt.Fprintln(w, "No hosts discovered.")
			return err
		}
		t := newTable("#", "IP", "MAC")
		for i, h := range st.Hosts {
			mac := h.MAC
			if mac == "" {
				mac = "(unresolved)"
			}
			t.Row(fmt.Sprint(i), h.IP, mac)
		}
		return printTable(w, t)
	})
}

func pairText(p command.PairInfo) string {
	if p.MAC == "" {
		return p.IP + " (unresolved)"
	}
	return p.IP + " " + p.MAC
}

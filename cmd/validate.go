package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/needle/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the daemon configuration file",
	Long: `Load and validate a daemon configuration file without starting the daemon.
Defaults are applied exactly as the daemon would apply them.

Examples:
  needle validate -c /etc/needle/config.yml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "VALID: node %q, capture %s (sink %s), builtins [%s], plugins %s\n",
		cfg.Node.Hostname,
		cfg.Capture.Type,
		cfg.Capture.Sink.Type,
		strings.Join(cfg.Plugins.Builtins, ", "),
		cfg.Plugins.Dir,
	)
	return err
}

// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/needle/internal/command"
)

var (
	// Global flags
	configFile    string
	socketPath    string
	outputFormat  string
	clientTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "needle",
	Short: "Needle - runtime-extensible packet manipulation framework",
	Long: `Needle loads hook plugins at runtime and runs some of them as background
modules that observe and inject raw network traffic, sharing what they learn
about the gateway, the local host and discovered peers.

Run "needle daemon" to start the framework, then drive it with the other
commands over the local control socket.`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/needle/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/needle.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text",
		"output format: text, json or yaml")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 10*time.Second,
		"control socket timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(validateCmd)
}

// newClient connects to the daemon named by the global flags.
func newClient() ClientInterface {
	return command.NewUDSClient(socketPath, clientTimeout)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// Package main is the entry point for the needle packet manipulation framework.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/needle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

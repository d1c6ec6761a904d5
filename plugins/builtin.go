// Package plugins holds the hook tables compiled into the daemon.
package plugins

import (
	"fmt"
	"slices"

	"firestige.xyz/needle/pkg/plugin"
	"firestige.xyz/needle/plugins/arpwatch"
	"firestige.xyz/needle/plugins/core"
	"firestige.xyz/needle/plugins/sniff"
)

var builtins = map[string]func() []plugin.Entry{
	"core":     core.Entries,
	"sniff":    sniff.Entries,
	"arpwatch": arpwatch.Entries,
}

// Builtin returns the registration table of a compiled-in plugin.
func Builtin(name string) ([]plugin.Entry, bool) {
	fn, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

// BuiltinNames returns the compiled-in plugin names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Entries concatenates the tables of the named builtins in the given order.
func Entries(names []string) ([]plugin.Entry, error) {
	var entries []plugin.Entry
	for _, name := range names {
		e, ok := Builtin(name)
		if !ok {
			return nil, fmt.Errorf("unknown builtin plugin: %s", name)
		}
		entries = append(entries, e...)
	}
	return entries, nil
}

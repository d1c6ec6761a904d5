package plugin

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParseArgs splits hook arguments into key=value options and positional words.
func ParseArgs(args []string) (opts map[string]any, positional []string) {
	opts = make(map[string]any)
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			positional = append(positional, a)
			continue
		}
		opts[strings.ToLower(k)] = v
	}
	return opts, positional
}

// DecodeArgs decodes key=value arguments into out, a pointer to a struct
// tagged with `arg:"name"`. Values are weakly typed ("256" fills an int).
// Unknown keys are an error. Positional words are returned.
func DecodeArgs(args []string, out any) ([]string, error) {
	opts, positional := ParseArgs(args)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "arg",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("build argument decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return positional, nil
}

// Package plugin loads hook libraries built with -buildmode=plugin.
package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goplugin "plugin"
	"slices"
	"strings"

	"go.uber.org/multierr"

	api "firestige.xyz/needle/pkg/plugin"
)

// DefaultPatterns are used when LoaderConfig.Patterns is empty.
var DefaultPatterns = []string{"*.so"}

type LoaderConfig struct {
	Path     string   // directory to load plugins from
	Patterns []string // file patterns to match plugins
}

// Target receives resolved libraries. *framework.Framework implements it.
type Target interface {
	LoadLibrary(lib api.Library) ([]string, error)
}

// OpenFunc opens a library file.
type OpenFunc func(path string) (api.Library, error)

// Result is the outcome of loading one file.
type Result struct {
	Path  string   `json:"path"`
	Name  string   `json:"name"`
	Hooks []string `json:"hooks"`
	Err   error    `json:"-"`
}

type Loader struct {
	config LoaderConfig
	target Target
	open   OpenFunc
}

// NewLoader creates a loader feeding target. open defaults to Open.
func NewLoader(config LoaderConfig, target Target, open OpenFunc) *Loader {
	if len(config.Patterns) == 0 {
		config.Patterns = DefaultPatterns
	}
	if open == nil {
		open = Open
	}
	return &Loader{
		config: config,
		target: target,
		open:   open,
	}
}

// Discover returns the plugin files matching the configured patterns, sorted
// and without duplicates.
func (l *Loader) Discover() ([]string, error) {
	info, err := os.Stat(l.config.Path)
	if err != nil {
		return nil, fmt.Errorf("plugin directory %s: %w", l.config.Path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin path %s is not a directory", l.config.Path)
	}

	files := make([]string, 0)
	for _, pattern := range l.config.Patterns {
		fullPattern := filepath.Join(l.config.Path, pattern)
		matches, err := filepath.Glob(fullPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to match pattern %s: %w", fullPattern, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// LoadFile opens one library and registers its hooks. It returns the hook
// names registered by this call; on collisions they come with a *api.BatchError.
func (l *Loader) LoadFile(file string) ([]string, error) {
	lib, err := l.open(file)
	if err != nil {
		return nil, &api.EntryPointError{Library: file, Symbol: api.EntryPointSymbol, Err: err}
	}
	applied, err := l.target.LoadLibrary(lib)
	if err != nil {
		return applied, err
	}
	slog.Info("plugin loaded", "plugin", libraryName(file), "path", file, "hooks", applied)
	return applied, nil
}

// LoadAll loads every discovered file. A failing file does not stop the
// others; the per-file results are returned with the combined error.
func (l *Loader) LoadAll() ([]Result, error) {
	files, err := l.Discover()
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(files))
	var errs error
	for _, file := range files {
		res := Result{Path: file, Name: libraryName(file)}
		if res.Hooks, res.Err = l.LoadFile(file); res.Err != nil {
			slog.Warn("plugin load failed", "plugin", res.Name, "error", res.Err)
			errs = multierr.Append(errs, fmt.Errorf("load %s: %w", file, res.Err))
		}
		results = append(results, res)
	}
	return results, errs
}

func libraryName(file string) string {
	name := filepath.Base(file)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Open opens a shared object with the Go plugin package.
func Open(path string) (api.Library, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin file %s: %w", path, err)
	}
	return &sharedObject{path: path, p: p}, nil
}

type sharedObject struct {
	path string
	p    *goplugin.Plugin
}

func (s *sharedObject) Path() string { return s.path }

func (s *sharedObject) Lookup(symbol string) (any, error) {
	sym, err := s.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

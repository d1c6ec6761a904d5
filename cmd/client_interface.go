package cmd

import (
	"context"

	"firestige.xyz/needle/internal/command"
	"firestige.xyz/needle/pkg/plugin"
)

// ClientInterface is the daemon API the commands depend on.
// *command.UDSClient implements it.
type ClientInterface interface {
	Invoke(ctx context.Context, name string, args []string) (*command.InvokeResult, error)
	Hooks(ctx context.Context) ([]command.HookInfo, error)
	Modules(ctx context.Context) ([]plugin.ModuleInfo, error)
	StopModule(ctx context.Context, name string) (*command.ModuleStopResult, error)
	LoadPlugin(ctx context.Context, path string) (*command.PluginLoadResult, error)
	HostStatus(ctx context.Context) (*command.HostStatus, error)
	Status(ctx context.Context) (*command.DaemonStatus, error)
	Shutdown(ctx context.Context) error
	Close() error
}

var _ ClientInterface = (*command.UDSClient)(nil)

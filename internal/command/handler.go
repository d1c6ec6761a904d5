// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/needle/internal/metrics"
	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

// Version is reported by daemon.status.
var Version = "0.1.0"

// Controller is the part of the framework the control plane drives.
type Controller interface {
	Hosts() *host.Manager
	Names() []string
	Hook(name string) (plugin.Hook, bool)
	InvokeNamed(name string, args []string) (key string, started bool, err error)
	Modules() []plugin.ModuleInfo
	StopModule(ctx context.Context, name string) error
}

// PluginLoader loads one hook library from disk.
type PluginLoader interface {
	LoadFile(path string) ([]string, error)
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	fw           Controller
	loader       PluginLoader
	shutdownFunc func() // Called by daemon.shutdown to trigger graceful stop
	startTime    int64  // Unix timestamp of daemon start for uptime calc
	stopTimeout  time.Duration
}

// NewCommandHandler creates a new command handler. loader may be nil, in
// which case plugin.load is rejected.
func NewCommandHandler(fw Controller, loader PluginLoader) *CommandHandler {
	return &CommandHandler{
		fw:          fw,
		loader:      loader,
		startTime:   time.Now().Unix(),
		stopTimeout: 5 * time.Second,
	}
}

// SetShutdownFunc sets the callback invoked by the daemon.shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetStopTimeout bounds how long module.stop waits for a worker to exit.
func (h *CommandHandler) SetStopTimeout(d time.Duration) {
	if d > 0 {
		h.stopTimeout = d
	}
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "hook.invoke", "module.stop"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error

	ErrCodeUnknownHook    = -32001
	ErrCodeModuleNotFound = -32002
	ErrCodeEntryPoint     = -32003
	ErrCodeHookCollision  = -32004
	ErrCodeHookFailed     = -32005 // The hook's own error message, verbatim
)

// Methods
const (
	MethodHookInvoke     = "hook.invoke"
	MethodHookList       = "hook.list"
	MethodModuleList     = "module.list"
	MethodModuleStop     = "module.stop"
	MethodPluginLoad     = "plugin.load"
	MethodHostStatus     = "host.status"
	MethodDaemonStatus   = "daemon.status"
	MethodDaemonShutdown = "daemon.shutdown"
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	var resp Response
	switch cmd.Method {
	case MethodHookInvoke:
		resp = h.handleHookInvoke(ctx, cmd)
	case MethodHookList:
		resp = h.handleHookList(ctx, cmd)
	case MethodModuleList:
		resp = h.handleModuleList(ctx, cmd)
	case MethodModuleStop:
		resp = h.handleModuleStop(ctx, cmd)
	case MethodPluginLoad:
		resp = h.handlePluginLoad(ctx, cmd)
	case MethodHostStatus:
		resp = h.handleHostStatus(ctx, cmd)
	case MethodDaemonStatus:
		resp = h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		resp = h.handleDaemonShutdown(ctx, cmd)
	default:
		metrics.CommandRequestsTotal.WithLabelValues(metrics.ResultUnknown, metrics.ResultError).Inc()
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}

	result := metrics.ResultOK
	if resp.Error != nil {
		result = metrics.ResultError
	}
	metrics.CommandRequestsTotal.WithLabelValues(cmd.Method, result).Inc()
	return resp
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

func invalidParams(id string, err error) Response {
	return errorResponse(id, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// errorCode maps framework errors onto response codes. Anything unknown is
// a hook's own failure and keeps its message.
func errorCode(err error) int {
	switch {
	case errors.Is(err, plugin.ErrUnknownHook):
		return ErrCodeUnknownHook
	case errors.Is(err, plugin.ErrModuleNotFound):
		return ErrCodeModuleNotFound
	case errors.Is(err, plugin.ErrEntryPoint):
		return ErrCodeEntryPoint
	case errors.Is(err, plugin.ErrHookCollision):
		return ErrCodeHookCollision
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrCodeInternalError
	default:
		return ErrCodeHookFailed
	}
}

// InvokeParams are the parameters of hook.invoke.
type InvokeParams struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// InvokeResult is the result of hook.invoke.
type InvokeResult struct {
	Hook    string `json:"hook" yaml:"hook"`
	Started bool   `json:"started" yaml:"started"`
	Module  string `json:"module,omitempty" yaml:"module,omitempty"`
}

func (h *CommandHandler) handleHookInvoke(_ context.Context, cmd Command) Response {
	var params InvokeParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if params.Name == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "hook name is required")
	}

	key, started, err := h.fw.InvokeNamed(params.Name, params.Args)
	if err != nil {
		return errorResponse(cmd.ID, errorCode(err), err.Error())
	}
	return Response{
		ID:     cmd.ID,
		Result: InvokeResult{Hook: params.Name, Started: started, Module: key},
	}
}

// HookInfo describes a registered hook.
type HookInfo struct {
	Name  string `json:"name" yaml:"name"`
	Scope string `json:"scope" yaml:"scope"`
	Usage string `json:"usage,omitempty" yaml:"usage,omitempty"`
}

func (h *CommandHandler) handleHookList(_ context.Context, cmd Command) Response {
	names := h.fw.Names()
	hooks := make([]HookInfo, 0, len(names))
	for _, name := range names {
		hook, ok := h.fw.Hook(name)
		if !ok {
			continue
		}
		hooks = append(hooks, HookInfo{Name: name, Scope: hook.Scope().String(), Usage: hook.Usage()})
	}
	return Response{ID: cmd.ID, Result: hooks}
}

func (h *CommandHandler) handleModuleList(_ context.Context, cmd Command) Response {
	return Response{ID: cmd.ID, Result: h.fw.Modules()}
}

// ModuleStopParams are the parameters of module.stop.
type ModuleStopParams struct {
	Name string `json:"name"`
}

// ModuleStopResult is the result of module.stop. Error carries the worker's
// terminal result, which is not a failure of the command itself.
type ModuleStopResult struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (h *CommandHandler) handleModuleStop(ctx context.Context, cmd Command) Response {
	var params ModuleStopParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if params.Name == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "module name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, h.stopTimeout)
	defer cancel()

	err := h.fw.StopModule(ctx, params.Name)
	switch {
	case err == nil:
		return Response{ID: cmd.ID, Result: ModuleStopResult{Name: params.Name, Status: "stopped"}}
	case errors.Is(err, plugin.ErrModuleNotFound):
		return errorResponse(cmd.ID, ErrCodeModuleNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return errorResponse(cmd.ID, ErrCodeInternalError,
			fmt.Sprintf("module %s did not exit within %s", params.Name, h.stopTimeout))
	default:
		return Response{ID: cmd.ID, Result: ModuleStopResult{Name: params.Name, Status: "stopped", Error: err.Error()}}
	}
}

// PluginLoadParams are the parameters of plugin.load.
type PluginLoadParams struct {
	Path string `json:"path"`
}

// PluginLoadResult is the result of plugin.load. Collisions are reported
// here because the other hooks of the library were still registered.
type PluginLoadResult struct {
	Path       string   `json:"path" yaml:"path"`
	Applied    []string `json:"applied" yaml:"applied"`
	Collisions []string `json:"collisions,omitempty" yaml:"collisions,omitempty"`
}

func (h *CommandHandler) handlePluginLoad(_ context.Context, cmd Command) Response {
	if h.loader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "plugin loader not available")
	}
	var params PluginLoadParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if params.Path == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "plugin path is required")
	}

	result := PluginLoadResult{Path: params.Path, Applied: []string{}}
	applied, err := h.loader.LoadFile(params.Path)
	if err != nil {
		var batch *plugin.BatchError
		if !errors.As(err, &batch) {
			return errorResponse(cmd.ID, errorCode(err), err.Error())
		}
		applied = batch.Applied
		result.Collisions = batch.Messages()
	}
	result.Applied = append(result.Applied, applied...)

	slog.Info("plugin loaded", "path", params.Path, "applied", len(result.Applied), "collisions", len(result.Collisions))
	return Response{ID: cmd.ID, Result: result}
}

// PairInfo is a textual KnownPair.
type PairInfo struct {
	IP  string `json:"ip" yaml:"ip"`
	MAC string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// HostEntry is one discovered host; MAC is empty while unresolved.
type HostEntry struct {
	IP  string `json:"ip" yaml:"ip"`
	MAC string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// HostStatus is the result of host.status.
type HostStatus struct {
	Gateway PairInfo    `json:"gateway" yaml:"gateway"`
	Self    PairInfo    `json:"self" yaml:"self"`
	Hosts   []HostEntry `json:"hosts" yaml:"hosts"`
}

func pairInfo(p host.KnownPair) PairInfo {
	info := PairInfo{}
	if p.Addr().IsValid() {
		info.IP = p.Addr().String()
	}
	if hw := p.HardwareAddr(); len(hw) > 0 {
		info.MAC = hw.String()
	}
	return info
}

func (h *CommandHandler) handleHostStatus(_ context.Context, cmd Command) Response {
	hosts := h.fw.Hosts()

	// One slot at a time.
	status := HostStatus{
		Gateway: pairInfo(hosts.Gateway()),
		Self:    pairInfo(hosts.Self()),
		Hosts:   []HostEntry{},
	}
	list := hosts.HostsSnapshot()
	for _, addr := range list.Hosts() {
		e := HostEntry{IP: addr.String()}
		if hw, _ := list.Lookup(addr); len(hw) > 0 {
			e.MAC = hw.String()
		}
		status.Hosts = append(status.Hosts, e)
	}
	return Response{ID: cmd.ID, Result: status}
}

// DaemonStatus is the result of daemon.status.
type DaemonStatus struct {
	Version   string `json:"version" yaml:"version"`
	PID       int    `json:"pid" yaml:"pid"`
	UptimeSec int64  `json:"uptime_sec" yaml:"uptime_sec"`
	Hooks     int    `json:"hooks" yaml:"hooks"`
	Modules   int    `json:"modules" yaml:"modules"`
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: DaemonStatus{
			Version:   Version,
			PID:       os.Getpid(),
			UptimeSec: time.Now().Unix() - h.startTime,
			Hooks:     len(h.fw.Names()),
			Modules:   len(h.fw.Modules()),
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon.shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

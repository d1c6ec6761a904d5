package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/needle/internal/command"
	"firestige.xyz/needle/pkg/plugin"
)

// MockClient is a mock implementation of ClientInterface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Invoke(ctx context.Context, name string, args []string) (*command.InvokeResult, error) {
	ret := m.Called(ctx, name, args)
	res, _ := ret.Get(0).(*command.InvokeResult)
	return res, ret.Error(1)
}

func (m *MockClient) Hooks(ctx context.Context) ([]command.HookInfo, error) {
	ret := m.Called(ctx)
	res, _ := ret.Get(0).([]command.HookInfo)
	return res, ret.Error(1)
}

func (m *MockClient) Modules(ctx context.Context) ([]plugin.ModuleInfo, error) {
	ret := m.Called(ctx)
	res, _ := ret.Get(0).([]plugin.ModuleInfo)
	return res, ret.Error(1)
}

func (m *MockClient) StopModule(ctx context.Context, name string) (*command.ModuleStopResult, error) {
	ret := m.Called(ctx, name)
	res, _ := ret.Get(0).(*command.ModuleStopResult)
	return res, ret.Error(1)
}

func (m *MockClient) LoadPlugin(ctx context.Context, path string) (*command.PluginLoadResult, error) {
	ret := m.Called(ctx, path)
	res, _ := ret.Get(0).(*command.PluginLoadResult)
	return res, ret.Error(1)
}

func (m *MockClient) HostStatus(ctx context.Context) (*command.HostStatus, error) {
	ret := m.Called(ctx)
	res, _ := ret.Get(0).(*command.HostStatus)
	return res, ret.Error(1)
}

func (m *MockClient) Status(ctx context.Context) (*command.DaemonStatus, error) {
	ret := m.Called(ctx)
	res, _ := ret.Get(0).(*command.DaemonStatus)
	return res, ret.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func TestRunInvoke_NoModule(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Invoke", mock.Anything, "who", []string(nil)).
		Return(&command.InvokeResult{Hook: "who"}, nil)

	var buf bytes.Buffer
	err := runInvoke(context.Background(), mockClient, "who", nil, &buf)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ who completed")
	mockClient.AssertExpectations(t)
}

func TestRunInvoke_ModuleJSON(t *testing.T) {
	withOutput(t, "json")
	mockClient := new(MockClient)
	mockClient.On("Invoke", mock.Anything, "sniff", []string{"filter=payload"}).
		Return(&command.InvokeResult{Hook: "sniff", Started: true, Module: "sniff_0"}, nil)

	var buf bytes.Buffer
	require.NoError(t, runInvoke(context.Background(), mockClient, "sniff", []string{"filter=payload"}, &buf))

	var got command.InvokeResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, command.InvokeResult{Hook: "sniff", Started: true, Module: "sniff_0"}, got)
	mockClient.AssertExpectations(t)
}

func TestRunInvoke_UnknownHook(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Invoke", mock.Anything, "ghost", mock.Anything).
		Return(nil, &command.ErrorInfo{Code: command.ErrCodeUnknownHook, Message: "unknown hook ghost"})

	var buf bytes.Buffer
	err := runInvoke(context.Background(), mockClient, "ghost", nil, &buf)

	var info *command.ErrorInfo
	require.True(t, errors.As(err, &info))
	assert.Equal(t, command.ErrCodeUnknownHook, info.Code)
	assert.Empty(t, buf.String())
}

func TestRunHooks_Table(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Hooks", mock.Anything).Return([]command.HookInfo{
		{Name: "who", Scope: "host", Usage: "who"},
		{Name: "stop", Scope: "framework", Usage: "stop [timeout=5s] <module>..."},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runHooks(context.Background(), mockClient, &buf))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "framework")
	assert.Contains(t, out, "stop [timeout=5s] <module>...")
	mockClient.AssertExpectations(t)
}

func TestRunModules_Empty(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Modules", mock.Anything).Return([]plugin.ModuleInfo{}, nil)

	var buf bytes.Buffer
	require.NoError(t, runModules(context.Background(), mockClient, &buf))
	assert.Contains(t, buf.String(), "No running modules.")
}

func TestRunModules_YAML(t *testing.T) {
	withOutput(t, "yaml")
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mockClient := new(MockClient)
	mockClient.On("Modules", mock.Anything).Return([]plugin.ModuleInfo{
		{Name: "arpwatch", Hook: "arpwatch", State: plugin.StateRunning, Filter: "entire", StartedAt: started},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runModules(context.Background(), mockClient, &buf))

	var got []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "arpwatch", got[0]["name"])
	assert.Equal(t, "running", got[0]["state"])
}

func TestRunModuleStop(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("StopModule", mock.Anything, "sniff").
		Return(&command.ModuleStopResult{Name: "sniff", Status: "stopped"}, nil)
	mockClient.On("StopModule", mock.Anything, "scan").
		Return(&command.ModuleStopResult{Name: "scan", Status: "stopped", Error: "link down"}, nil)
	mockClient.On("StopModule", mock.Anything, "ghost").
		Return(nil, &command.ErrorInfo{Code: command.ErrCodeModuleNotFound, Message: "needle: module not found"})

	var buf bytes.Buffer
	require.NoError(t, runModuleStop(context.Background(), mockClient, "sniff", &buf))
	assert.Contains(t, buf.String(), "Module sniff stopped")

	buf.Reset()
	require.NoError(t, runModuleStop(context.Background(), mockClient, "scan", &buf))
	assert.Contains(t, buf.String(), "stopped with error: link down")

	assert.Error(t, runModuleStop(context.Background(), mockClient, "ghost", &buf))
	mockClient.AssertExpectations(t)
}

func TestRunPluginLoad_AbsolutePath(t *testing.T) {
	withOutput(t, "text")
	abs, err := filepath.Abs("example.so")
	require.NoError(t, err)

	mockClient := new(MockClient)
	mockClient.On("LoadPlugin", mock.Anything, abs).Return(&command.PluginLoadResult{
		Path:       abs,
		Applied:    []string{"count"},
		Collisions: []string{`needle: hook "hello" already registered`},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runPluginLoad(context.Background(), mockClient, "example.so", &buf))

	out := buf.String()
	assert.Contains(t, out, "1 hook(s) registered")
	assert.Contains(t, out, "hooks: count")
	assert.Contains(t, out, "collision:")
	mockClient.AssertExpectations(t)
}

func TestRunHosts(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("HostStatus", mock.Anything).Return(&command.HostStatus{
		Gateway: command.PairInfo{IP: "10.0.0.1", MAC: "aa:aa:aa:aa:aa:aa"},
		Self:    command.PairInfo{IP: "10.0.0.5", MAC: "bb:bb:bb:bb:bb:bb"},
		Hosts: []command.HostEntry{
			{IP: "10.0.0.9", MAC: "cc:cc:cc:cc:cc:cc"},
			{IP: "10.0.0.7"},
		},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runHosts(context.Background(), mockClient, &buf))

	out := buf.String()
	assert.Contains(t, out, "Gateway: 10.0.0.1 aa:aa:aa:aa:aa:aa")
	assert.Contains(t, out, "Self:    10.0.0.5 bb:bb:bb:bb:bb:bb")
	assert.Contains(t, out, "10.0.0.9")
	assert.Contains(t, out, "(unresolved)")
}

func TestRunStatus(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Status", mock.Anything).Return(&command.DaemonStatus{
		Version: "0.1.0", PID: 42, UptimeSec: 90, Hooks: 8, Modules: 1,
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), mockClient, &buf))

	out := buf.String()
	assert.Contains(t, out, "needle 0.1.0 (pid 42)")
	assert.Contains(t, out, "uptime:  1m30s")
	assert.Contains(t, out, "modules: 1")
}

func TestRunStatus_UnknownFormat(t *testing.T) {
	withOutput(t, "xml")
	mockClient := new(MockClient)
	mockClient.On("Status", mock.Anything).Return(&command.DaemonStatus{Version: "0.1.0"}, nil)

	var buf bytes.Buffer
	err := runStatus(context.Background(), mockClient, &buf)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRunStop_Success(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Shutdown", mock.Anything).Return(nil)

	var buf bytes.Buffer
	require.NoError(t, runStop(context.Background(), mockClient, "", &buf))
	assert.Contains(t, buf.String(), "✓ Shutdown requested")
	mockClient.AssertExpectations(t)
}

func TestRunStop_FallbackWithoutPIDFile(t *testing.T) {
	withOutput(t, "text")
	mockClient := new(MockClient)
	mockClient.On("Shutdown", mock.Anything).Return(errors.New("connection refused"))

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, filepath.Join(t.TempDir(), "needle.pid"), &buf)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "signal fallback")
	assert.Empty(t, buf.String())
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte(`
needle:
  node:
    hostname: edge-01
  capture:
    type: none
    sink:
      type: none
`), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(good, &buf))
	assert.Contains(t, buf.String(), `VALID: node "edge-01", capture none (sink none)`)
	assert.Contains(t, buf.String(), "core, sniff, arpwatch")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("needle:\n  log:\n    format: xml\n"), 0644))
	assert.ErrorContains(t, runValidate(bad, &buf), "invalid log format")
}

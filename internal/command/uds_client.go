package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/needle/pkg/plugin"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// rawResponse keeps the result undecoded until the caller picks a type.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Call sends a command and waits for response. Result holds the raw JSON
// of the result.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := uuid.NewString()
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var raw rawResponse
	if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", raw.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{ID: respID, Result: raw.Result, Error: raw.Error}, nil
}

// call performs method and decodes its result into out. An error response
// is returned as *ErrorInfo.
func (c *UDSClient) call(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	raw, _ := resp.Result.(json.RawMessage)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Invoke runs a hook in the daemon.
func (c *UDSClient) Invoke(ctx context.Context, name string, args []string) (*InvokeResult, error) {
	var res InvokeResult
	if err := c.call(ctx, MethodHookInvoke, InvokeParams{Name: name, Args: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Hooks lists the registered hooks in registration order.
func (c *UDSClient) Hooks(ctx context.Context) ([]HookInfo, error) {
	var hooks []HookInfo
	if err := c.call(ctx, MethodHookList, nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// Modules lists the registered modules.
func (c *UDSClient) Modules(ctx context.Context) ([]plugin.ModuleInfo, error) {
	var modules []plugin.ModuleInfo
	if err := c.call(ctx, MethodModuleList, nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// StopModule stops a module and returns its terminal result.
func (c *UDSClient) StopModule(ctx context.Context, name string) (*ModuleStopResult, error) {
	var res ModuleStopResult
	if err := c.call(ctx, MethodModuleStop, ModuleStopParams{Name: name}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoadPlugin loads a hook library into the daemon.
func (c *UDSClient) LoadPlugin(ctx context.Context, path string) (*PluginLoadResult, error) {
	var res PluginLoadResult
	if err := c.call(ctx, MethodPluginLoad, PluginLoadParams{Path: path}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HostStatus returns the shared host state.
func (c *UDSClient) HostStatus(ctx context.Context) (*HostStatus, error) {
	var res HostStatus
	if err := c.call(ctx, MethodHostStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns daemon information.
func (c *UDSClient) Status(ctx context.Context) (*DaemonStatus, error) {
	var res DaemonStatus
	if err := c.call(ctx, MethodDaemonStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.call(ctx, MethodDaemonShutdown, nil, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}

// Close is a no-op; every call uses its own connection.
func (c *UDSClient) Close() error {
	return nil
}

package command

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h Handler) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	server := NewUDSServer(socketPath, h)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-server.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}
	t.Cleanup(cancel)
	return socketPath, cancel, errCh
}

func TestUDSServerClient_Integration(t *testing.T) {
	fw := newFramework(t)
	socketPath, cancel, errCh := startServer(t, NewCommandHandler(fw, nil))
	client := NewUDSClient(socketPath, 5*time.Second)
	ctx := context.Background()

	t.Run("hooks", func(t *testing.T) {
		hooks, err := client.Hooks(ctx)
		require.NoError(t, err)
		require.Len(t, hooks, 4)
		assert.Equal(t, "who", hooks[0].Name)
	})

	t.Run("invoke", func(t *testing.T) {
		res, err := client.Invoke(ctx, "scan", []string{"x=1"})
		require.NoError(t, err)
		assert.True(t, res.Started)
		assert.Equal(t, "scan", res.Module)

		res, err = client.Invoke(ctx, "who", nil)
		require.NoError(t, err)
		assert.False(t, res.Started)
	})

	t.Run("invoke unknown", func(t *testing.T) {
		_, err := client.Invoke(ctx, "missing", nil)
		require.Error(t, err)
		var info *ErrorInfo
		require.ErrorAs(t, err, &info)
		assert.Equal(t, ErrCodeUnknownHook, info.Code)
	})

	t.Run("modules", func(t *testing.T) {
		modules, err := client.Modules(ctx)
		require.NoError(t, err)
		require.Len(t, modules, 1)
		assert.Equal(t, "scan", modules[0].Name)
		assert.Equal(t, "closed", modules[0].Filter)

		res, err := client.StopModule(ctx, "scan")
		require.NoError(t, err)
		assert.Equal(t, "stopped", res.Status)
	})

	t.Run("hosts", func(t *testing.T) {
		status, err := client.HostStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", status.Gateway.IP)
		assert.Equal(t, "bb:bb:bb:bb:bb:bb", status.Self.MAC)
		assert.Empty(t, status.Hosts)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed")
}

func TestUDSServer_MalformedRequest(t *testing.T) {
	socketPath, _, _ := startServer(t, NewCommandHandler(newFramework(t), nil))

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte("not json\n{\"jsonrpc\":\"2.0\",\"id\":7}\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	var resp JSONRPCResponse

	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)

	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
	assert.EqualValues(t, 7, resp.ID)
}

func TestUDSClient_NoServer(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "absent.sock"), time.Second)
	assert.Error(t, client.Ping(context.Background()))
}

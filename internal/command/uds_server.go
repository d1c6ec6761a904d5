package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Handler processes one decoded command. CommandHandler is the production
// implementation; both the socket server and the Kafka consumer use it.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// UDSServer implements a JSON-RPC server over Unix Domain Socket.
type UDSServer struct {
	socketPath string
	handler    Handler
	listener   net.Listener
	ready      chan struct{}

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewUDSServer creates a new UDS server.
func NewUDSServer(socketPath string, handler Handler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		ready:      make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *UDSServer) Ready() <-chan struct{} {
	return s.ready
}

// Start starts the UDS server.
// Blocks until context is cancelled or an error occurs.
func (s *UDSServer) Start(ctx context.Context) error {
	// Remove a stale socket left by a crashed daemon
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}

	// 0600: hooks run with full daemon privilege
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	slog.Info("uds server started", "socket", s.socketPath)

	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("uds server stopping", "reason", ctx.Err())

	return s.Stop()
}

func (s *UDSServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()

			if stopped {
				return
			}

			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection serves newline-delimited requests until the peer hangs up.
func (s *UDSServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	slog.Debug("uds connection established")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req JSONRPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			slog.Error("failed to parse request", "error", err)
			encoder.Encode(JSONRPCResponse{
				JSONRPC: "2.0",
				Error: &ErrorInfo{
					Code:    ErrCodeParseError,
					Message: fmt.Sprintf("parse error: %v", err),
				},
			})
			continue
		}
		if req.Method == "" {
			encoder.Encode(JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &ErrorInfo{Code: ErrCodeInvalidRequest, Message: "method is required"},
			})
			continue
		}

		resp := s.handler.Handle(ctx, Command{
			Method: req.Method,
			Params: req.Params,
			ID:     fmt.Sprintf("%v", req.ID),
		})

		if err := encoder.Encode(JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  resp.Result,
			Error:   resp.Error,
		}); err != nil {
			slog.Error("failed to send response", "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Debug("connection error", "error", err)
	}

	slog.Debug("uds connection closed")
}

// Stop stops the UDS server.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	os.RemoveAll(s.socketPath)

	slog.Info("uds server stopped")
	return nil
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// Package gateway exposes the orchestrator over HTTP as an MCP-style
// JSON-RPC endpoint: tools for processing requests and driving agents,
// resources for inspecting engine state.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mwhitlock/chorus/internal/orchestrator"
	"github.com/mwhitlock/chorus/internal/registry"
)

const protocolVersion = "2024-11-05"

// Config controls the gateway runtime.
type Config struct {
	// ListenAddr is the host:port to bind. Defaults to 127.0.0.1:7900.
	ListenAddr string
	// AuthToken, when set, requires a matching bearer token on every call.
	AuthToken string
	// ServerName is reported in the initialize response.
	ServerName string
	// Version is reported in the initialize response.
	Version string
	// Logger receives access and error logs. Optional.
	Logger *log.Logger
}

// Server is the protocol gateway over one orchestrator.
type Server struct {
	orch       *orchestrator.Orchestrator
	reg        *registry.Registry
	cfg        Config
	httpServer *http.Server
}

// NewServer constructs a gateway bound to the given orchestrator and
// registry.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, reg *registry.Registry) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("gateway: orchestrator is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("gateway: registry is required")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = "127.0.0.1:7900"
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "chorus"
	}
	return &Server{orch: orch, reg: reg, cfg: cfg}, nil
}

// Handler returns the HTTP handler serving the gateway endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/mcp", s.wrapAuth(s.handleRPC))
	return mux
}

// Start begins serving requests until the context is cancelled or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.ListenAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logf("listening on %s", s.cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) wrapAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := strings.TrimSpace(s.cfg.AuthToken); token != "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonRPCRequest is an incoming JSON-RPC 2.0 call.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// jsonRPCResponse is an outgoing JSON-RPC 2.0 result.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// jsonRPCError is a JSON-RPC 2.0 error object.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRPC handles MCP JSON-RPC requests over HTTP POST.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, 0, -32700, "parse error")
		return
	}

	result, rpcErr := s.handleMethod(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.logf("%s: rpc error %d: %s", req.Method, rpcErr.Code, rpcErr.Message)
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resultJSON, _ := json.Marshal(result)
	resp := jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  resultJSON,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMethod(ctx context.Context, method string, params any) (any, *jsonRPCError) {
	switch method {
	case "initialize":
		return map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{"name": s.cfg.ServerName, "version": s.cfg.Version},
		}, nil
	case "tools/list":
		return s.toolsList(), nil
	case "tools/call":
		return s.toolsCall(ctx, params)
	case "resources/list":
		return s.resourcesList(), nil
	case "resources/read":
		return s.resourcesRead(params)
	default:
		return nil, &jsonRPCError{Code: -32601, Message: "method not found"}
	}
}

func writeRPCError(w http.ResponseWriter, id int64, code int, msg string) {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   jsonRPCError{Code: code, Message: msg},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf("[gateway] "+format, args...)
	}
}

func mustJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

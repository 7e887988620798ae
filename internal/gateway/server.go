// Package gateway is the HTTP surface of the daemon: health, the tool
// catalog, direct tool calls, and chat over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"quartermaster/internal/domain"
	"quartermaster/internal/tooling"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// Tools lists and invokes the tool catalog (implemented by tooling.Invoker).
type Tools interface {
	Definitions() []domain.ToolDefinition
	Call(ctx context.Context, call domain.ToolCall, tc domain.TurnContext) tooling.Invocation
}

// Turner runs one orchestration turn with caller-supplied history (implemented by brain.Brain).
type Turner interface {
	ProcessTurn(ctx context.Context, message string, tc domain.TurnContext, history []domain.Message) (string, error)
}

// ChannelRouter answers a message in a channel with stored history (implemented by router.Router).
type ChannelRouter interface {
	Route(ctx context.Context, channelID, message string, tc domain.TurnContext) (string, error)
}

// Deps are the collaborators behind the endpoints. Any may be nil; the
// matching endpoints then answer 503.
type Deps struct {
	Tools  Tools
	Brain  Turner
	Router ChannelRouter
	Logger *slog.Logger
}

// Server is an HTTP server that optionally enforces Bearer token auth.
type Server struct {
	cfg         domain.GatewayConfig
	deps        Deps
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
func NewServer(cfg domain.GatewayConfig, deps Deps) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	s := &Server{cfg: cfg, deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /tools/call", s.handleToolCall)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("/ws", s.handleWS)

	token := ""
	if cfg.Auth.Mode != "none" {
		token = cfg.Auth.AuthToken
	}
	s.server = &http.Server{
		Handler:           logRequests(s.log(), BearerAuth(token, "/health")(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.Default()
}

// Addr returns the bound address after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run, if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the full handler chain. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

// Run listens on the configured port and serves until ctx is done. Returns
// nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netListen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.log().Info("gateway listening", "addr", s.Addr())

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(shutdownCtx, s.server); err != nil {
		return err
	}
	<-done
	return nil
}

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"greenbonds/core"
	nativecommon "greenbonds/native/common"
	"greenbonds/observability"
)

const (
	defaultMaxBodyBytes = 1 << 20
	limiterIdleTTL      = 10 * time.Minute
	requestIDHeader     = "X-Request-ID"
)

type contextKey string

const contextKeyRequestID contextKey = "rpc.request_id"

// Config tunes the JSON-RPC server.
type Config struct {
	// RateLimit is the sustained requests per second per client IP. Zero
	// disables rate limiting.
	RateLimit    float64
	Burst        int
	MaxBodyBytes int64
	// MaxExpiry bounds how far ahead a signed envelope may expire.
	MaxExpiry   time.Duration
	AdminSecret string
	// Quota limits signed writes per caller.
	Quota nativecommon.Quota
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes the ledger node over JSON-RPC 2.0.
type Server struct {
	node   *core.Node
	replay *ReplayStore
	admin  *AdminAuth
	quota  *nativecommon.QuotaTracker
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor

	router http.Handler
}

// NewServer builds a server for node. replay remembers consumed envelope
// nonces and is required for signed methods.
func NewServer(node *core.Node, replay *ReplayStore, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxExpiry <= 0 {
		cfg.MaxExpiry = 10 * time.Minute
	}
	s := &Server{
		node:     node,
		replay:   replay,
		admin:    NewAdminAuth(cfg.AdminSecret),
		quota:    nativecommon.NewQuotaTracker(cfg.Quota),
		cfg:      cfg,
		logger:   logger.With("component", "rpc"),
		clock:    time.Now,
		visitors: make(map[string]*visitor),
	}
	s.router = s.buildRouter()
	return s
}

// SetClock overrides the wall clock used for envelope expiry and quotas.
func (s *Server) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	s.clock = clock
	s.admin.now = clock
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.rateLimit).Post("/rpc", s.handle)

	return otelhttp.NewHandler(r, "greenbonds.rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown rpc server: %w", err)
		}
		return nil
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit > 0 && !s.allowSource(clientID(r), s.clock()) {
			observability.ModuleMetrics().RecordThrottle("rate")
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.visitors[source]
	if !ok {
		for id, v := range s.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(s.visitors, id)
			}
		}
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)}
		s.visitors[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	head := s.node.Head()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"height": head.Height,
		"root":   head.Root,
	})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
		observability.ModuleMetrics().Observe("rpc", "unknown", codeMethodNotFound, time.Since(started))
		return
	}

	logger := s.logger.With("request_id", requestIDFrom(r.Context()), "method", req.Method)
	code := s.dispatch(w, r, req, m, logger)
	observability.ModuleMetrics().Observe("rpc", req.Method, code, time.Since(started))
}

// dispatch authenticates the call according to the method kind, runs it and
// writes the response. It returns the JSON-RPC code written, zero on success.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest, m method, logger *slog.Logger) int {
	c := &call{ctx: r.Context(), method: req.Method}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single params object", nil)
		return codeInvalidParams
	}
	if len(req.Params) == 1 {
		c.params = req.Params[0]
	}

	switch m.kind {
	case methodAdmin:
		subject, authErr := s.admin.Check(r)
		if authErr != nil {
			writeRPCError(w, req.ID, authErr, http.StatusUnauthorized)
			return authErr.Code
		}
		c.admin = subject
		logger = logger.With("admin", subject)
	case methodSigned:
		if rpcErr, status := s.authenticate(c, m); rpcErr != nil {
			logger.Debug("signed call rejected", "error", rpcErr.Message)
			writeRPCError(w, req.ID, rpcErr, status)
			return rpcErr.Code
		}
		logger = logger.With("caller", c.caller.String())
	}

	result, err := m.handle(s, c)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			writeRPCError(w, req.ID, rpcErr, http.StatusBadRequest)
			return rpcErr.Code
		}
		code := writeLedgerError(w, req.ID, err)
		logger.Info("call failed", "code", code, "error", err)
		return code
	}
	if m.kind != methodQuery {
		logger.Info("call applied")
	}
	writeResult(w, req.ID, result)
	return 0
}

// authenticate verifies the envelope carried by a signed call, consumes the
// nonce and charges the caller's quota.
func (s *Server) authenticate(c *call, m method) (*RPCError, int) {
	if len(c.params) == 0 {
		return &RPCError{Code: codeInvalidParams, Message: "signed envelope required"}, http.StatusBadRequest
	}
	env := &Envelope{}
	if rpcErr := decodeParams(c.params, env); rpcErr != nil {
		return rpcErr, http.StatusBadRequest
	}
	now := s.clock()
	caller, err := env.Verify(c.method, now, s.cfg.MaxExpiry)
	if err != nil {
		if errors.Is(err, ErrEnvelopeSignature) {
			return &RPCError{Code: codeUnauthorized, Message: err.Error()}, http.StatusUnauthorized
		}
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}, http.StatusBadRequest
	}
	c.caller = caller
	c.params = env.Payload

	if s.replay == nil {
		return &RPCError{Code: codeServerError, Message: "replay store not configured"}, http.StatusServiceUnavailable
	}
	// Duplicates are turned away before the quota is charged so a captured
	// envelope cannot drain its signer's allowance.
	if err := s.replay.Use(env.ReplayKey(), now); err != nil {
		if errors.Is(err, ErrReplayed) {
			return &RPCError{Code: codeDuplicateTx, Message: err.Error(), Data: env.Nonce}, http.StatusConflict
		}
		return &RPCError{Code: codeServerError, Message: "replay check failed", Data: err.Error()}, http.StatusInternalServerError
	}
	var units uint64
	if m.units != nil {
		units = m.units(env.Payload)
	}
	if err := s.quota.Consume(caller.String(), now.Unix(), units); err != nil {
		observability.ModuleMetrics().RecordThrottle("quota")
		return &RPCError{Code: codeQuotaExceeded, Message: err.Error()}, http.StatusTooManyRequests
	}
	return nil, 0
}

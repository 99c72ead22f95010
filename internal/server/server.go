package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/autopeq/internal/autoeq"
	"github.com/copyleftdev/autopeq/internal/config"
	apierrors "github.com/copyleftdev/autopeq/internal/errors"
	"github.com/copyleftdev/autopeq/internal/logging"
	"github.com/copyleftdev/autopeq/internal/optimization"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// OptimizeFunc runs one optimization; autoeq.Optimize in production
type OptimizeFunc func(ctx context.Context, cfg autoeq.Config, progress optimization.ProgressFunc,
	token *optimization.CancellationToken, opts ...autoeq.Option) (*autoeq.Result, error)

// Option configures a Server
type Option func(*Server)

// WithOptimizeFunc replaces the optimization entry point
func WithOptimizeFunc(f OptimizeFunc) Option {
	return func(s *Server) {
		if f != nil {
			s.optimize = f
		}
	}
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and
// cancel them. At most OPT_WORKER_COUNT jobs run at a time; the rest wait.
type Server struct {
	cfg      *config.Config
	logger   Logger
	optimize OptimizeFunc
	metrics  *metrics

	mu     sync.RWMutex
	jobs   map[string]*job
	order  []string
	closed bool

	sem     chan struct{}
	wg      sync.WaitGroup
	seq     atomic.Uint64
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	if cfg.Optimization.MaxJobs < 1 {
		cfg.Optimization.MaxJobs = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		optimize: autoeq.Optimize,
		metrics:  newMetrics(),
		jobs:     make(map[string]*job),
		sem:      make(chan struct{}, workers),
		baseCtx:  ctx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/defaults", s.handleDefaults)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// MetricsHandler exposes the server's Prometheus registry
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.handler()
}

// Close cancels every job and waits for their goroutines to return
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		if !j.status.Terminal() {
			j.token.Set()
		}
	}
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	return nil
}

// Defaults returns the default request for a preset ("", "speaker" or "room")
func (s *Server) Defaults(preset string) (autoeq.Config, error) {
	var cfg autoeq.Config
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", "default":
		cfg = autoeq.DefaultConfig()
	case "speaker":
		cfg = autoeq.SpeakerDefaults()
	case "room":
		cfg = autoeq.RoomDefaults()
	default:
		return autoeq.Config{}, apierrors.BadRequestf("unknown preset %q", preset)
	}
	cfg.MaxEval = s.cfg.Optimization.DefaultMaxEval
	cfg.Seed = s.cfg.Optimization.DefaultSeed
	return cfg, nil
}

// decodeConfig overlays a JSON request on the defaults of its preset.
// "max_db" is accepted as shorthand for symmetric gain bounds.
func (s *Server) decodeConfig(data []byte) (autoeq.Config, error) {
	var head struct {
		Preset string `json:"preset"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return autoeq.Config{}, apierrors.BadRequestf("invalid request body: %v", err)
	}
	cfg, err := s.Defaults(head.Preset)
	if err != nil {
		return autoeq.Config{}, err
	}

	req := struct {
		*autoeq.Config
		MaxDB  *float64 `json:"max_db"`
		Preset string   `json:"preset"`
	}{Config: &cfg}
	if err := json.Unmarshal(data, &req); err != nil {
		return autoeq.Config{}, apierrors.BadRequestf("invalid request body: %v", err)
	}
	if req.MaxDB != nil {
		if !(*req.MaxDB > 0) {
			return autoeq.Config{}, apierrors.BadRequestf("max_db must be positive, got %v", *req.MaxDB)
		}
		cfg.MinGain, cfg.MaxGain = -*req.MaxDB, *req.MaxDB
	}
	return cfg, nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if limit := s.cfg.HTTP.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apierrors.BadRequestf("reading body: %v", err)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierrors.Write(w, err)
	if e.Status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
}

// handleOptimize handles POST /api/v1/optimize
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.decodeConfig(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.Start(cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": snap.ID,
		"status":          snap.Status,
	})
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancel handles DELETE /api/v1/optimization/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"optimization_id": snap.ID,
		"status":          "cancellation requested",
	})
}

// handleDefaults handles GET /api/v1/defaults?preset=room
func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Defaults(r.URL.Query().Get("preset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// JSON-RPC 2.0 error codes
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID     string `json:"optimization_id"`
	Preset string `json:"preset"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(w, r)
	if err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}
	var request rpcRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	switch request.Method {
	case "optimization.start":
		result, err = s.rpcStart(request.Params)
	case "optimization.status":
		result, err = s.rpcWithID(request.Params, s.Status)
	case "optimization.cancel":
		result, err = s.rpcWithID(request.Params, s.Cancel)
		if err == nil {
			result = map[string]interface{}{
				"optimization_id": result.(JobSnapshot).ID,
				"status":          "cancellation requested",
			}
		}
	case "optimization.defaults":
		result, err = s.rpcDefaults(request.Params)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		e := apierrors.From(err)
		code := rpcServerError
		if e.Status == http.StatusBadRequest {
			code = rpcInvalidParams
		}
		s.respondWithError(w, code, e.Message, request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// firstParam accepts params as an object or as an array whose first element
// is the object.
func firstParam(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		return raw, nil
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, apierrors.BadRequestf("invalid params: %v", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}
	return nil, apierrors.BadRequestf("params must be an object or an array")
}

func (s *Server) rpcStart(raw json.RawMessage) (interface{}, error) {
	p, err := firstParam(raw)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apierrors.BadRequestf("missing required parameters")
	}
	cfg, err := s.decodeConfig(p)
	if err != nil {
		return nil, err
	}
	snap, err := s.Start(cfg)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"optimization_id": snap.ID,
		"status":          snap.Status,
	}, nil
}

func decodeIDParams(raw json.RawMessage) (idParams, error) {
	var params idParams
	p, err := firstParam(raw)
	if err != nil || p == nil {
		return params, err
	}
	if err := json.Unmarshal(p, &params); err != nil {
		return params, apierrors.BadRequestf("invalid params: %v", err)
	}
	return params, nil
}

func (s *Server) rpcWithID(raw json.RawMessage, f func(string) (JobSnapshot, error)) (interface{}, error) {
	params, err := decodeIDParams(raw)
	if err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, apierrors.BadRequestf("optimization_id is required")
	}
	return f(params.ID)
}

func (s *Server) rpcDefaults(raw json.RawMessage) (interface{}, error) {
	params, err := decodeIDParams(raw)
	if err != nil {
		return nil, err
	}
	return s.Defaults(params.Preset)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

// Package api serves the mining network over HTTP: work submission, chain
// and discovery queries, hybrid computation and a websocket event feed.
package api

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/bardlex/promine/internal/chain"
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/hybrid"
	"github.com/bardlex/promine/internal/mining"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/validation"
	"github.com/bardlex/promine/internal/valuation"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

// List limits
const (
	defaultLimit   = 10
	maxLimit       = 100
	auditPageSize  = 500
	maxRequestBody = 1 << 20
)

// Store is the read side of the chain store
type Store interface {
	GetActiveOperations(ctx context.Context) ([]*models.Operation, error)
	GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error)
	GetDiscoveries(ctx context.Context, limit int) ([]*models.Discovery, error)
	GetBlock(ctx context.Context, id int64) (*models.Block, error)
	GetBlocks(ctx context.Context, limit int) ([]*models.Block, error)
	GetBlocksFrom(ctx context.Context, from int64, limit int) ([]*models.Block, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Miner accepts work and reports network metrics
type Miner interface {
	Submit(ctx context.Context, wt work.Type, difficulty int) (*mining.Handle, error)
	NetworkMetrics(ctx context.Context) (*models.NetworkMetrics, error)
}

// Hybrid runs direct computations and peer verification
type Hybrid interface {
	Compute(ctx context.Context, wt work.Type, difficulty int) (*engine.Result, error)
	Verify(ctx context.Context, res *engine.Result) (*hybrid.Report, error)
	Capabilities() hybrid.Capabilities
}

// healthChecker is implemented by stores backed by external services
type healthChecker interface {
	Health(ctx context.Context) error
}

// Config configures the server
type Config struct {
	// SubmitRateLimit is the number of submissions per client per minute;
	// zero disables limiting
	SubmitRateLimit int64
	Version         string
}

// Server is the HTTP API
type Server struct {
	cfg       Config
	router    *mux.Router
	store     Store
	miner     Miner
	hybrid    Hybrid
	hub       *Hub
	limiter   Limiter
	validator *validation.Validator
	logger    *log.Logger
	started   time.Time
}

// NewServer builds the API and registers its routes. limiter may be nil.
func NewServer(cfg Config, store Store, miner Miner, h Hybrid, hub *Hub, limiter Limiter, logger *log.Logger) *Server {
	if limiter == nil {
		limiter = NewWindowLimiter(time.Minute)
	}
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		store:     store,
		miner:     miner,
		hybrid:    h,
		hub:       hub,
		limiter:   limiter,
		validator: validation.Default(),
		logger:    logger.WithComponent("api"),
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/ws", s.hub).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Mining
	api.HandleFunc("/mining/start", s.handleStartMining).Methods("POST")
	api.HandleFunc("/mining/operations", s.handleOperations).Methods("GET")

	// Chain
	api.HandleFunc("/blocks", s.handleBlocks).Methods("GET")
	api.HandleFunc("/blocks/{id}", s.handleBlock).Methods("GET")
	api.HandleFunc("/discoveries", s.handleDiscoveries).Methods("GET")
	api.HandleFunc("/discoveries/{id}", s.handleDiscovery).Methods("GET")
	api.HandleFunc("/chain/verify", s.handleVerifyChain).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	// Hybrid computation
	api.HandleFunc("/hybrid/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/hybrid/compute", s.handleCompute).Methods("POST")
	api.HandleFunc("/hybrid/verify", s.handleVerify).Methods("POST")

	// Valuation
	api.HandleFunc("/valuation", s.handleValuationStats).Methods("GET")
	api.HandleFunc("/valuation/{workType}", s.handleValuation).Methods("GET")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err onto a status code and writes it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var se *errors.ServiceError
	switch {
	case stderrors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.IsType(err, errors.ErrorTypeValidation):
		status, msg = http.StatusBadRequest, err.Error()
		if stderrors.As(err, &se) {
			msg = se.Message
		}
	case errors.IsType(err, errors.ErrorTypeLifecycle):
		status, msg = http.StatusServiceUnavailable, "mining is unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed", "method", r.Method, "path", r.URL.Path)
	}
	s.writeError(w, status, msg)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "decode_request", "request body is not valid JSON")
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":           "ok",
		"version":          s.cfg.Version,
		"uptimeSeconds":    int64(time.Since(s.started).Seconds()),
		"websocketClients": s.hub.Clients(),
	}
	if hc, ok := s.store.(healthChecker); ok {
		if err := hc.Health(r.Context()); err != nil {
			s.logger.WithError(err).Warn("storage health check failed")
			resp["status"] = "degraded"
			resp["storage"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// POST /api/mining/start
func (s *Server) handleStartMining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	allowed, err := s.limiter.AllowSubmission(ctx, clientIP(r), s.cfg.SubmitRateLimit)
	if err != nil {
		s.logger.WithError(err).Warn("rate limit check failed")
	}
	if !allowed {
		s.writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
		return
	}

	var sub validation.Submission
	if err := decode(w, r, &sub); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.validator.ValidateSubmission(&sub)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	h, err := s.miner.Submit(ctx, item.WorkType, item.Difficulty)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, h.Operation)
}

// GET /api/mining/operations
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.store.GetActiveOperations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ops == nil {
		ops = []*models.Operation{}
	}
	s.writeJSON(w, http.StatusOK, ops)
}

// GET /api/blocks?limit=
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), defaultLimit, maxLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	blocks, err := s.store.GetBlocks(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.Block{}
	}
	s.writeJSON(w, http.StatusOK, blocks)
}

// GET /api/blocks/{id}
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.store.GetBlock(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// GET /api/discoveries?limit=
func (s *Server) handleDiscoveries(w http.ResponseWriter, r *http.Request) {
	limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), defaultLimit, maxLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ds, err := s.store.GetDiscoveries(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ds == nil {
		ds = []*models.Discovery{}
	}
	s.writeJSON(w, http.StatusOK, ds)
}

// GET /api/discoveries/{id}
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.store.GetDiscovery(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// GET /api/chain/verify
func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	length, err := chain.Audit(r.Context(), s.store, auditPageSize)
	resp := map[string]any{"valid": err == nil, "length": length}
	if err != nil {
		if !chain.IsBrokenLink(err) {
			s.fail(w, r, err)
			return
		}
		resp["error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.miner.NetworkMetrics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// GET /api/hybrid/capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hybrid.Capabilities())
}

// POST /api/hybrid/compute
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req validation.ComputeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.validator.ValidateCompute(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.hybrid.Compute(r.Context(), item.WorkType, item.Difficulty)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// POST /api/hybrid/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req validation.VerifyRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.validator.ValidateVerify(&req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.hybrid.Verify(r.Context(), req.Result)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// GET /api/valuation
func (s *Server) handleValuationStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, valuation.Stats())
}

// GET /api/valuation/{workType}
func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	wt, err := work.Parse(mux.Vars(r)["workType"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown work type")
		return
	}
	s.writeJSON(w, http.StatusOK, valuation.Describe(wt))
}

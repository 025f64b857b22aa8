// Package transport exposes the pipeline over HTTP: JSON request/response,
// an SSE streaming surface, acknowledgement handling, and health.
package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/metrics"
	"github.com/wardline/wardline/pipeline"
	"github.com/wardline/wardline/ratelimit"
)

// RespondRequest is the JSON body for /v1/respond and /v1/stream
type RespondRequest struct {
	UserID        string                 `json:"userId"`
	Message       string                 `json:"message"`
	AckToken      string                 `json:"ackToken,omitempty"`
	History       []pipeline.HistoryTurn `json:"history,omitempty"`
	HasActivePlan bool                   `json:"hasActivePlan,omitempty"`
	HasDraftPlan  bool                   `json:"hasDraftPlan,omitempty"`
	// ProceedDegraded accepts the degraded answer a prior blocked
	// result offered
	ProceedDegraded bool `json:"proceedDegraded,omitempty"`
}

// errorBody is the JSON error envelope
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server is the HTTP surface over the pipeline
type Server struct {
	router   *mux.Router
	executor *pipeline.Executor
	limiter  *ratelimit.Limiter
	store    core.Store
	logger   core.Logger
	metrics  *metrics.Metrics
}

// Options configures a Server
type Options struct {
	Executor *pipeline.Executor
	Limiter  *ratelimit.Limiter
	Store    core.Store
	Logger   core.Logger
	Metrics  *metrics.Metrics
}

// NewServer builds the router
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{
		router:   mux.NewRouter(),
		executor: opts.Executor,
		limiter:  opts.Limiter,
		store:    opts.Store,
		logger:   logger,
		metrics:  opts.Metrics,
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/respond", s.handleRespond).Methods(http.MethodPost)
	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodPost)
	api.HandleFunc("/ack", s.handleAck).Methods(http.MethodPost)
	return s
}

// Handler returns the root handler for an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	result := s.executor.Execute(r.Context(), toPipelineRequest(req))
	s.observe(result)
	s.writeJSON(w, statusFor(result), result)
}

// handleAck resumes a halted request. It is /v1/respond with the token
// required, kept separate so clients acknowledge deliberately.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.AckToken == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "ackToken is required", Code: "INVALID_INPUT"})
		return
	}
	result := s.executor.Execute(r.Context(), toPipelineRequest(req))
	s.observe(result)
	s.writeJSON(w, statusFor(result), result)
}

// observe feeds one finished run into the Prometheus collectors
func (s *Server) observe(result *pipeline.Result) {
	if s.metrics == nil || result == nil {
		return
	}
	s.metrics.ObserveResult(string(result.Kind), result.Regenerations)
	for _, record := range result.Records {
		s.metrics.ObserveGate(record.Gate, string(record.Status), time.Duration(record.ExecutionTimeMs)*time.Millisecond)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}
	if s.store != nil {
		if _, err := s.store.Exists(ctx, core.NamespaceScheduler+":health"); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
	}
	s.writeJSON(w, status, body)
}

// rateLimitMiddleware applies the per-user token bucket. Unauthenticated
// callers are keyed by remote address on the anonymous tier.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		tier := r.Header.Get("X-Tier")
		key := r.Header.Get("X-User-Id")
		if key == "" {
			tier = ratelimit.TierAnonymous
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		} else if tier == "" {
			tier = ratelimit.TierStandard
		}

		decision, err := s.limiter.Check(r.Context(), tier, "respond", key)
		if err != nil {
			// limiter fails open; an error here is programmer error
			s.logger.Error("Rate limit check failed", map[string]interface{}{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if s.metrics != nil {
			s.metrics.ObserveLimiter(tier, decision.Allowed)
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt((decision.RetryAfterMs+999)/1000, 10))
			s.writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*RespondRequest, bool) {
	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "INVALID_INPUT"})
		return nil, false
	}
	if req.UserID == "" || req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "userId and message are required", Code: "INVALID_INPUT"})
		return nil, false
	}
	return &req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func toPipelineRequest(req *RespondRequest) *pipeline.Request {
	return &pipeline.Request{
		RequestID:       newRequestID(),
		UserID:          req.UserID,
		Message:         req.Message,
		AckToken:        req.AckToken,
		History:         req.History,
		HasActivePlan:   req.HasActivePlan,
		HasDraftPlan:    req.HasDraftPlan,
		ProceedDegraded: req.ProceedDegraded,
	}
}

func statusFor(result *pipeline.Result) int {
	switch result.Kind {
	case pipeline.KindError:
		return http.StatusInternalServerError
	case pipeline.KindAwaitAck:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

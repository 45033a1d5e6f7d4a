package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
	"github.com/legasicrypto/borrowing-protocol/internal/ingestion"
	"github.com/legasicrypto/borrowing-protocol/internal/observability"
	"github.com/legasicrypto/borrowing-protocol/internal/query"
)

const defaultListLimit = 50

// Server exposes the read API over HTTP/JSON and accepts commands for
// local (non-NATS) ingestion. Queries read from projection tables and
// never touch engine state.
type Server struct {
	queries    *query.QueryService
	commands   chan<- command.Command
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	log        zerolog.Logger
	httpServer *http.Server
	cmdTimeout time.Duration
}

func NewServer(
	queries *query.QueryService,
	commands chan<- command.Command,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		queries:    queries,
		commands:   commands,
		health:     health,
		metrics:    metrics,
		log:        observability.NewLogger("server"),
		cmdTimeout: 5 * time.Second,
	}
}

// Router builds the route table. Static paths are registered before
// their parameterized siblings so /v1/policies/version wins over
// /v1/policies/{asset}.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/positions/{id}", s.handleGetPosition).Methods("GET")
	v1.HandleFunc("/positions/{id}/debt", s.handleGetDebt).Methods("GET")
	v1.HandleFunc("/positions/{id}/intents", s.handleGetPositionIntents).Methods("GET")
	v1.HandleFunc("/positions/{id}/liquidations", s.handleGetLiquidationHistory).Methods("GET")
	v1.HandleFunc("/intents/{id}", s.handleGetIntent).Methods("GET")
	v1.HandleFunc("/prices/{asset}", s.handleGetPrice).Methods("GET")
	v1.HandleFunc("/policies/version", s.handleGetPolicyVersion).Methods("GET")
	v1.HandleFunc("/policies/{asset}", s.handleGetPolicy).Methods("GET")
	v1.HandleFunc("/venues", s.handleListVenues).Methods("GET")
	v1.HandleFunc("/admin/integrity", s.handleVerifyIntegrity).Methods("GET")
	v1.HandleFunc("/commands", s.handleSubmitCommand).Methods("POST")

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")

	return r
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- query handlers ---

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_position", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetPosition(ctx, mux.Vars(r)["id"])
	})
}

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_debt", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetDebt(ctx, mux.Vars(r)["id"])
	})
}

func (s *Server) handleGetPositionIntents(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_position_intents", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetIntentsForPosition(ctx, mux.Vars(r)["id"], limitParam(r))
	})
}

func (s *Server) handleGetLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_liquidation_history", func(ctx context.Context) (interface{}, error) {
		var before *int64
		if raw := r.URL.Query().Get("before"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, errBadRequest
			}
			before = &v
		}
		return s.queries.GetLiquidationHistory(ctx, mux.Vars(r)["id"], limitParam(r), before)
	})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_intent", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetIntent(ctx, mux.Vars(r)["id"])
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_price", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetPrice(ctx, mux.Vars(r)["asset"])
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_policy", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetPolicy(ctx, mux.Vars(r)["asset"])
	})
}

func (s *Server) handleGetPolicyVersion(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_policy_version", func(ctx context.Context) (interface{}, error) {
		return s.queries.GetPolicyVersion(ctx)
	})
}

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "list_venues", func(ctx context.Context) (interface{}, error) {
		venues, err := s.queries.ListVenues(ctx)
		if err != nil {
			return nil, err
		}
		if venues == nil {
			venues = []query.VenueResponse{}
		}
		return venues, nil
	})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "verify_integrity", func(ctx context.Context) (interface{}, error) {
		return s.queries.VerifyIntegrity(ctx)
	})
}

// --- command ingestion ---

// submitRequest is the POST /v1/commands wire format. The payload uses
// the same flat JSON shape the NATS subjects carry.
type submitRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "submit_command", http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CommandType == "" || len(req.Payload) == 0 {
		s.writeError(w, "submit_command", http.StatusBadRequest, "command_type and payload are required")
		return
	}

	cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{
		Subject:   "http",
		Data:      req.Payload,
		Timestamp: start,
	}, req.CommandType)
	if err != nil {
		s.writeError(w, "submit_command", http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.commands <- cmd:
	case <-time.After(s.cmdTimeout):
		s.writeError(w, "submit_command", http.StatusServiceUnavailable, "command channel saturated")
		return
	case <-r.Context().Done():
		return
	}

	s.metrics.QueryRequests.WithLabelValues("submit_command", "ok").Inc()
	s.metrics.QueryDuration.WithLabelValues("submit_command").Observe(time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":          "accepted",
		"command_type":    req.CommandType,
		"idempotency_key": cmd.IdempotencyKey(),
	})
}

// --- helpers ---

var errBadRequest = errors.New("bad request")

func (s *Server) serve(w http.ResponseWriter, r *http.Request, endpoint string, fn func(context.Context) (interface{}, error)) {
	start := time.Now()

	resp, err := fn(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, query.ErrNotFound):
			s.writeError(w, endpoint, http.StatusNotFound, "not found")
		case errors.Is(err, errBadRequest):
			s.writeError(w, endpoint, http.StatusBadRequest, "bad request")
		default:
			s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
			s.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
	s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

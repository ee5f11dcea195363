// Package server implements the HTTP server that exposes the multi-tenant
// question-answering workflow via a small REST API. The server is started by
// the `queryagent serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/store"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// New constructs a Server from the workflow runner, the ingestion facade,
// and the config.
func New(run runner, ing ingestor, cfg *Config) (*Server, error) {
	if run == nil {
		return nil, fmt.Errorf("server: runner must not be nil")
	}
	if ing == nil {
		return nil, fmt.Errorf("server: ingestor must not be nil")
	}
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("server: tenant registry must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full workflow run with every retry pass.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		runner:       run,
		ingestor:     ing,
		registry:     cfg.Registry,
		history:      cfg.History,
		historyDepth: cfg.HistoryDepth,
		cfg:          cfg,
		log:          cfg.Logger,
		pingers:      cfg.Pingers,
		metrics:      newServerMetrics(reg),
	}

	if cfg.APIKey == "" {
		s.log.Warn("auth: no API key configured, authentication disabled")
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl, stopRL := newRateLimiter(rps, burst, s.log)
	s.stopRL = stopRL

	protect := func(h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protect(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/ingest", protect(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      corsMiddleware(requestLogger(s.log, s.metrics.middleware(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. It resolves the tenant, replays the
// conversation history, runs the workflow to a terminal state, extracts the
// answer, and persists the turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserMessage == "" {
		http.Error(w, "user_message is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	// Tenant resolution happens before any retrieval work so an unknown
	// user never touches the index.
	ns, err := s.registry.Lookup(req.UserID)
	if err != nil {
		if errors.Is(err, namespace.ErrUnknownUser) {
			http.Error(w, "unknown user_id", http.StatusBadRequest)
			return
		}
		http.Error(w, "tenant lookup failed", http.StatusInternalServerError)
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "user:" + req.UserID
	}

	log := logging.FromContext(r.Context())

	initial := workflow.NewState(s.loadHistory(r.Context(), threadID), req.UserMessage)

	// The resolved namespace is carried both explicitly in the invocation
	// config and ambiently on the context; the explicit value wins, the
	// ambient one covers code paths that never see the config.
	ctx := namespace.WithNamespace(r.Context(), ns)
	final, err := s.runner.Run(ctx, initial, workflow.InvocationConfig{
		ThreadID:  threadID,
		Namespace: ns,
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, workflow.ErrCancelled) {
			outcome = "cancelled"
		}
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		log.Error("workflow run failed", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	answer := extractAnswer(final.QueryResponse)

	// Persist the turn (non-fatal on error).
	if s.history != nil {
		if err := s.history.Append(ctx, threadID, store.RoleUser, req.UserMessage); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := s.history.Append(ctx, threadID, store.RoleAssistant, answer); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	s.metrics.chatRetrievalPasses.Observe(float64(final.RetryCount))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{Response: answer}); err != nil {
		log.Error("chat encode error", slog.Any("error", err))
	}
}

// handleIngest handles POST /api/ingest. The document is chunked, embedded,
// and written to the caller's namespace.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentText == "" {
		http.Error(w, "document_text is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ns, err := s.registry.Lookup(req.UserID)
	if err != nil {
		if errors.Is(err, namespace.ErrUnknownUser) {
			http.Error(w, "unknown user_id", http.StatusBadRequest)
			return
		}
		http.Error(w, "tenant lookup failed", http.StatusInternalServerError)
		return
	}

	log := logging.FromContext(r.Context())

	count, err := s.ingestor.Ingest(r.Context(), req.DocumentText, ns)
	if err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues("error").Inc()
		log.Error("ingestion failed", slog.Any("error", err), slog.String("namespace", ns))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.ingestRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestChunksTotal.Add(float64(count))
	log.Info("document ingested",
		slog.String("namespace", ns),
		slog.Int("chunks", count),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ingestResponse{ChunksIngested: count}); err != nil {
		log.Error("ingest encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// loadHistory replays the most recent persisted turns for threadID. A load
// failure degrades to a stateless request rather than failing the chat.
func (s *Server) loadHistory(ctx context.Context, threadID string) []workflow.Message {
	if s.history == nil {
		return nil
	}
	prior, err := s.history.Recent(ctx, threadID, s.historyDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		return nil
	}
	msgs := make([]workflow.Message, 0, len(prior))
	for _, m := range prior {
		switch m.Role {
		case store.RoleUser:
			msgs = append(msgs, workflow.Message{Role: workflow.RoleUser, Content: m.Content})
		case store.RoleAssistant:
			msgs = append(msgs, workflow.Message{Role: workflow.RoleAssistant, Content: m.Content})
		}
	}
	return msgs
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/store"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full workflow run including every retry pass.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on POST /api/chat and
	// POST /api/ingest. If empty, authentication is disabled (development mode).
	APIKey string
	// Registry maps user IDs to their tenant namespaces. Required.
	Registry *namespace.Registry
	// History is the optional conversation store. If nil each chat request
	// is stateless.
	History store.ConversationStore
	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// replay per chat request. Defaults to 10 if zero.
	HistoryDepth int
	// Metrics is the Prometheus registry backing GET /metrics. If nil a
	// fresh registry is created, which keeps tests hermetic.
	Metrics *prometheus.Registry
}

// runner is the interface handleChat drives. *workflow.Controller satisfies
// it; tests inject a fake.
type runner interface {
	// Run executes the answer workflow and returns the terminal state.
	Run(ctx context.Context, initial workflow.State, inv workflow.InvocationConfig) (workflow.State, error)
}

// ingestor is the interface handleIngest drives. *vectorstore.Facade
// satisfies it; tests inject a fake.
type ingestor interface {
	// Ingest chunks, embeds, and stores text under ns, returning the number
	// of chunks written.
	Ingest(ctx context.Context, text, ns string) (int, error)
}

// Server is the HTTP server exposing the question-answering workflow.
type Server struct {
	// runner executes chat workflows.
	runner runner
	// ingestor handles document ingestion.
	ingestor ingestor
	// registry resolves user IDs to tenant namespaces.
	registry *namespace.Registry
	// history is the optional conversation store.
	history store.ConversationStore
	// historyDepth is the number of recent turns replayed per chat request.
	historyDepth int
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// UserMessage is the user's natural language question.
	UserMessage string `json:"user_message"`
	// ThreadID identifies the conversation. Defaults to "user:<user_id>".
	ThreadID string `json:"thread_id,omitempty"`
	// UserID identifies the tenant user. Must be registered.
	UserID string `json:"user_id"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Response is the final extracted answer text.
	Response string `json:"response"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// DocumentText is the raw document to chunk and index.
	DocumentText string `json:"document_text"`
	// UserID identifies the tenant user whose namespace receives the chunks.
	UserID string `json:"user_id"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// ChunksIngested is the number of chunks written to the vector store.
	ChunksIngested int `json:"chunks_ingested"`
}

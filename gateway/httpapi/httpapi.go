// Package httpapi is the reference HTTP adapter: an OpenAI-compatible
// POST /v1/chat/completions (JSON and SSE) plus GET /v1/models, routed with
// chi rather than a bare net/http.ServeMux because the gateway's inbound
// surface needs route-scoped middleware (panic recovery, request metrics) chi
// composes cleanly without reinventing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/orchestrator"
)

// ModelLister is the subset of gateway/catalog.Catalog GET /v1/models needs.
type ModelLister interface {
	Models() []string
}

// Frontend is the subset of gateway/frontend.Frontend the adapter drives.
type Frontend interface {
	Run(ctx context.Context, req *gwtypes.Request) (*orchestrator.Result, error)
}

// Metrics is the narrow surface the adapter reports HTTP-level observations
// through; gateway/gwmetrics implements it.
type Metrics interface {
	ObserveHTTPRequest(method, path, status string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHTTPRequest(string, string, string, float64) {}

// Server builds the chi router for the gateway's inbound HTTP surface.
type Server struct {
	frontend Frontend
	catalog  ModelLister
	metrics  Metrics
	logger   *zap.Logger
}

func NewServer(f Frontend, cat ModelLister, metrics Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{frontend: f, catalog: cat, metrics: metrics, logger: logger.With(zap.String("component", "httpapi"))}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/models", s.handleModels)
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)
		s.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, http.StatusText(rw.Status()), time.Since(start).Seconds())
	})
}

// wireRequest is the inbound OpenAI-shaped JSON body.
type wireRequest struct {
	Model       string            `json:"model"`
	Messages    []wireMessage     `json:"messages"`
	Stream      bool              `json:"stream,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Provider    string            `json:"provider,omitempty"` // preferred_provider override
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

func toDomainRequest(w wireRequest) *gwtypes.Request {
	msgs := make([]gwtypes.Message, len(w.Messages))
	for i, m := range w.Messages {
		msgs[i] = gwtypes.Message{Role: gwtypes.Role(m.Role), Content: m.Content, Name: m.Name}
	}
	return &gwtypes.Request{
		ModelSelector:     w.Model,
		Messages:          msgs,
		Stream:            w.Stream,
		PreferredProvider: w.Provider,
		MaxTokens:         w.MaxTokens,
		Temperature:       w.Temperature,
		TopP:              w.TopP,
		Stop:              w.Stop,
		Metadata:          w.Metadata,
	}
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body wireRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, gwerrors.New(gwerrors.CodeClientError, "malformed request body: "+err.Error()))
		return
	}

	req := toDomainRequest(body)
	result, err := s.frontend.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	setRoutingHeaders(w, result.Metadata)

	if result.Stream != nil {
		s.writeSSE(w, r, result.Stream)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, result *orchestrator.Result) {
	resp := wireResponse{
		Model: result.Response.Model,
		Choices: []wireChoice{{
			Index:        0,
			FinishReason: result.Response.FinishReason,
			Message:      wireMessage{Role: string(result.Response.Message.Role), Content: result.Response.Message.Content},
		}},
		Usage: wireUsage{
			PromptTokens:     result.Response.Usage.PromptTokens,
			CompletionTokens: result.Response.Usage.CompletionTokens,
			TotalTokens:      result.Response.Usage.Total(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeSSE(w http.ResponseWriter, r *http.Request, stream <-chan gwtypes.StreamChunk) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.CodeServerError, "streaming unsupported by response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if chunk.Err != nil {
				gwErr, ok := gwerrors.As(chunk.Err)
				if !ok {
					gwErr = gwerrors.New(gwerrors.CodeServerError, chunk.Err.Error())
				}
				writeSSEFrame(w, map[string]any{"error": string(gwErr.Code), "provider": gwErr.Provider})
				_, _ = w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				return
			}
			if chunk.Done {
				writeSSEFrame(w, map[string]any{"done": true})
				_, _ = w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				return
			}
			writeSSEFrame(w, map[string]any{
				"choices": []map[string]any{{
					"delta": map[string]any{"role": string(chunk.Delta.Role), "content": chunk.Delta.Content},
				}},
			})
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func setRoutingHeaders(w http.ResponseWriter, meta gwtypes.RoutingMetadata) {
	w.Header().Set("X-Gateway-Provider", meta.Provider)
	w.Header().Set("X-Gateway-Model", meta.CanonicalModel)
	w.Header().Set("X-Gateway-Tier", itoa(meta.Tier))
	w.Header().Set("X-Gateway-Attempts", itoa(meta.Attempts))
	if meta.Downgraded {
		w.Header().Set("X-Gateway-Downgraded", "true")
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": modelEntries(s.catalog.Models())})
}

func modelEntries(ids []string) []map[string]string {
	out := make([]map[string]string, len(ids))
	for i, id := range ids {
		out[i] = map[string]string{"id": id, "object": "model"}
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	var exhausted *orchestrator.ExhaustedError
	if errors.As(err, &exhausted) {
		// A provider exhausted purely by rate limiting reads outward as 429
		// rather than a generic 503: every other exhaustion shape (mixed
		// causes, or uniform non-rate-limit causes like a flapping
		// server_error) stays a 503 service_unavailable/exhausted.
		status := http.StatusServiceUnavailable
		errType := gwerrors.CodeExhausted
		if allRateLimited(exhausted.Attempts) {
			status = http.StatusTooManyRequests
			errType = gwerrors.CodeRateLimited
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":  exhausted.Error(),
				"type":     string(errType),
				"attempts": exhaustedAttempts(exhausted),
			},
		})
		return
	}

	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.New(gwerrors.CodeServerError, err.Error())
	}
	status := gwErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": gwErr.Message, "type": string(gwErr.Code), "provider": gwErr.Provider},
	})
}

func allRateLimited(attempts []orchestrator.AttemptRecord) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if a.ErrorClass != gwerrors.CodeRateLimited {
			return false
		}
	}
	return true
}

func exhaustedAttempts(e *orchestrator.ExhaustedError) []map[string]string {
	out := make([]map[string]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = map[string]string{"provider": a.Provider, "error": string(a.ErrorClass)}
	}
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// Package openaicompat is the gateway's reference ProviderDriver: it speaks
// to any OpenAI-compatible HTTP endpoint (non-streaming completions and SSE
// streaming), classifying failures into the gateway's closed error set.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"go.uber.org/zap"
)

// Config configures one OpenAI-compatible upstream.
type Config struct {
	ProviderID   string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration // default 30s
	ChatPath     string        // default /chat/completions
}

// Driver implements driver.Driver against an OpenAI-compatible endpoint.
type Driver struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openaicompat"), zap.String("provider", cfg.ProviderID)),
	}
}

var _ driver.Driver = (*Driver)(nil)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type wireResponse struct {
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

func toWireMessages(msgs []gwtypes.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (d *Driver) buildRequest(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel, stream bool) (*http.Request, error) {
	body := wireRequest{
		Model:       model.ModelPath,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(d.cfg.BaseURL, "/") + d.cfg.ChatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Call performs a non-streaming chat completion.
func (d *Driver) Call(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (*gwtypes.Response, error) {
	httpReq, err := d.buildRequest(ctx, req, model, false)
	if err != nil {
		return nil, gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(d.cfg.ProviderID)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyNetworkError(err, d.cfg.ProviderID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := driver.ReadErrorMessage(resp.Body)
		return nil, driver.MapHTTPError(resp.StatusCode, msg, d.cfg.ProviderID)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, gwerrors.New(gwerrors.CodeServerError, "decode response: "+err.Error()).WithProvider(d.cfg.ProviderID)
	}
	if len(wr.Choices) == 0 {
		return nil, gwerrors.New(gwerrors.CodeServerError, "empty choices").WithProvider(d.cfg.ProviderID)
	}

	choice := wr.Choices[0]
	out := &gwtypes.Response{
		Model:        wr.Model,
		FinishReason: choice.FinishReason,
		Usage: gwtypes.Usage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
		},
	}
	if choice.Message != nil {
		out.Message = gwtypes.Message{Role: gwtypes.Role(choice.Message.Role), Content: choice.Message.Content}
	}
	if wr.Created != 0 {
		out.CreatedAt = time.Unix(wr.Created, 0)
	}
	return out, nil
}

// Stream performs a streaming chat completion over SSE.
func (d *Driver) Stream(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (<-chan gwtypes.StreamChunk, error) {
	httpReq, err := d.buildRequest(ctx, req, model, true)
	if err != nil {
		return nil, gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(d.cfg.ProviderID)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyNetworkError(err, d.cfg.ProviderID)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := driver.ReadErrorMessage(resp.Body)
		return nil, driver.MapHTTPError(resp.StatusCode, msg, d.cfg.ProviderID)
	}

	return streamSSE(ctx, resp.Body, d.cfg.ProviderID), nil
}

// streamSSE parses "data: {json}\n\n" frames terminated by "data: [DONE]"
// into canonical StreamChunks. The terminal chunk carries the accumulated
// usage and Done=true; usage on OpenAI-compatible SSE streams typically
// arrives only on the last data frame before [DONE].
func streamSSE(ctx context.Context, body io.ReadCloser, providerID string) <-chan gwtypes.StreamChunk {
	ch := make(chan gwtypes.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		var lastUsage *gwtypes.Usage

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, gwtypes.StreamChunk{Err: gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(providerID)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				emit(ctx, ch, gwtypes.StreamChunk{Done: true, Usage: lastUsage})
				return
			}

			var wr wireResponse
			if err := json.Unmarshal([]byte(data), &wr); err != nil {
				emit(ctx, ch, gwtypes.StreamChunk{Err: gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(providerID)})
				return
			}
			if wr.Usage.PromptTokens != 0 || wr.Usage.CompletionTokens != 0 {
				lastUsage = &gwtypes.Usage{PromptTokens: wr.Usage.PromptTokens, CompletionTokens: wr.Usage.CompletionTokens}
			}
			for _, choice := range wr.Choices {
				chunk := gwtypes.StreamChunk{}
				if choice.Delta != nil {
					chunk.Delta = gwtypes.Message{Role: gwtypes.RoleAssistant, Content: choice.Delta.Content}
				}
				emit(ctx, ch, chunk)
			}
		}
	}()
	return ch
}

func emit(ctx context.Context, ch chan<- gwtypes.StreamChunk, chunk gwtypes.StreamChunk) {
	select {
	case <-ctx.Done():
	case ch <- chunk:
	}
}

func classifyNetworkError(err error, providerID string) *gwerrors.Error {
	return gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(providerID)
}

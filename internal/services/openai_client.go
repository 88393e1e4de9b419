package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// EmbeddingClient turns text into fixed-length vectors. Errors propagate to
// the caller, which decides the degraded behavior.
type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// ChatTurnMessage is one entry of the history handed to generation.
type ChatTurnMessage struct {
	Role    string
	Content string
}

// ToolDefinition declares a function tool the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamResult is the terminal outcome of one streamed generation.
type StreamResult struct {
	Text      string
	ToolCalls []types.ToolInvocation
}

// GenerationClient streams assistant output. Cancellation flows through ctx
// and tears down the underlying HTTP stream.
type GenerationClient interface {
	StreamChat(ctx context.Context, system string, history []ChatTurnMessage, tools []ToolDefinition, onDelta func(delta string)) (StreamResult, error)
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type OpenAIClient interface {
	EmbeddingClient
	GenerationClient
}

type openAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
	// streams run much longer than unary calls
	streamClient *http.Client

	maxRetries    int
	embedMaxChars int
}

func NewOpenAIClient(log *logger.Logger, embedMaxChars int) (OpenAIClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}

	embed := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if embed == "" {
		embed = "text-embedding-3-small"
	}

	timeoutSec := 180
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	streamTimeoutSec := timeoutSec
	if streamTimeoutSec < 600 {
		streamTimeoutSec = 600
	}

	maxRetries := 4
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	if embedMaxChars <= 0 {
		embedMaxChars = 10000
	}

	return &openAIClient{
		log:           log.With("service", "OpenAIClient"),
		baseURL:       baseURL,
		apiKey:        apiKey,
		model:         model,
		embedModel:    embed,
		httpClient:    &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		streamClient:  &http.Client{Timeout: time.Duration(streamTimeoutSec) * time.Second},
		maxRetries:    maxRetries,
		embedMaxChars: embedMaxChars,
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

// jitterSleep widens the backoff by +/- 20% so concurrent retriers spread out.
func jitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

func (c *openAIClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *openAIClient) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}

		if !isRetryableErr(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("openai retry loop exhausted")
}

// truncateUTF8 caps s at max bytes without splitting a multi-byte rune.
func truncateUTF8(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *openAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	trimmed := make([]string, len(inputs))
	for i, in := range inputs {
		trimmed[i] = truncateUTF8(in, c.embedMaxChars)
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/v1/embeddings", embeddingsRequest{Model: c.embedModel, Input: trimmed}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embedding response missing index %d", i)
		}
	}
	return out, nil
}

type responsesInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type responsesTextFormat struct {
	Format map[string]any `json:"format"`
}

type responsesRequest struct {
	Model       string               `json:"model"`
	Input       []responsesInputItem `json:"input"`
	Text        *responsesTextFormat `json:"text,omitempty"`
	Tools       []responsesTool      `json:"tools,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

func (c *openAIClient) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" || schema == nil {
		return nil, errors.New("schema name and schema required")
	}

	req := responsesRequest{
		Model: c.model,
		Input: []responsesInputItem{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Text: &responsesTextFormat{
			Format: map[string]any{
				"type":   "json_schema",
				"name":   schemaName,
				"schema": schema,
				"strict": true,
			},
		},
		Temperature: 0.2,
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return nil, err
	}

	var jsonText strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, ct := range item.Content {
			if ct.Type == "output_text" {
				jsonText.WriteString(ct.Text)
			}
		}
	}
	if jsonText.Len() == 0 {
		return nil, fmt.Errorf("no output_text in structured response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText.String()), &obj); err != nil {
		return nil, fmt.Errorf("structured response is not valid JSON: %w", err)
	}
	return obj, nil
}

// StreamChat streams one assistant turn. Text deltas go to onDelta as they
// arrive; function tool calls are accumulated across events and returned
// whole. Aborts reach the wire through ctx cancellation.
func (c *openAIClient) StreamChat(ctx context.Context, system string, history []ChatTurnMessage, tools []ToolDefinition, onDelta func(delta string)) (StreamResult, error) {
	out := StreamResult{}

	input := make([]responsesInputItem, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		input = append(input, responsesInputItem{Role: "system", Content: system})
	}
	for _, m := range history {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "user"
		}
		input = append(input, responsesInputItem{Role: role, Content: m.Content})
	}

	reqBody := responsesRequest{
		Model:  c.model,
		Input:  input,
		Stream: true,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, responsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return out, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var full strings.Builder
	// in-flight function calls keyed by output item id
	callNames := map[string]string{}
	callIDs := map[string]string{}
	callArgs := map[string]*strings.Builder{}
	var callOrder []string

	err = streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var obj map[string]any
		if jErr := json.Unmarshal([]byte(data), &obj); jErr != nil {
			return nil
		}

		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && t != "" {
			evt = t
		}

		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("openai stream error: %s", string(b))
		}

		switch {
		case strings.HasSuffix(evt, "output_text.delta"):
			if d, ok := obj["delta"].(string); ok && d != "" {
				full.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}

		case strings.HasSuffix(evt, "output_item.added"):
			item, _ := obj["item"].(map[string]any)
			if item == nil {
				return nil
			}
			if t, _ := item["type"].(string); t != "function_call" {
				return nil
			}
			id, _ := item["id"].(string)
			if id == "" {
				return nil
			}
			callNames[id], _ = item["name"].(string)
			callIDs[id], _ = item["call_id"].(string)
			callArgs[id] = &strings.Builder{}
			callOrder = append(callOrder, id)
			if args, _ := item["arguments"].(string); args != "" {
				callArgs[id].WriteString(args)
			}

		case strings.HasSuffix(evt, "function_call_arguments.delta"):
			id, _ := obj["item_id"].(string)
			if sb, ok := callArgs[id]; ok {
				if d, ok := obj["delta"].(string); ok {
					sb.WriteString(d)
				}
			}

		case strings.HasSuffix(evt, "function_call_arguments.done"):
			// Authoritative full payload; replaces the accumulation.
			id, _ := obj["item_id"].(string)
			if sb, ok := callArgs[id]; ok {
				if args, ok := obj["arguments"].(string); ok && args != "" {
					sb.Reset()
					sb.WriteString(args)
				}
			}
		}

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, err
	}

	out.Text = full.String()
	for _, id := range callOrder {
		args := map[string]any{}
		if raw := strings.TrimSpace(callArgs[id].String()); raw != "" {
			if uErr := json.Unmarshal([]byte(raw), &args); uErr != nil {
				c.log.Warn("Dropping tool call with unparseable arguments",
					"tool", callNames[id],
					"error", uErr,
				)
				continue
			}
		}
		invocationID := callIDs[id]
		if invocationID == "" {
			invocationID = id
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolInvocation{
			ID:        invocationID,
			Name:      callNames[id],
			Arguments: args,
		})
	}
	return out, nil
}

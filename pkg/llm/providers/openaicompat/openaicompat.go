// Package openaicompat implements llm.ProviderClient for OpenAI-compatible
// chat completion endpoints. Both upstreams used by this service (Dashscope
// and Volcengine Ark) speak this dialect; one adapter serves every physical
// model, configured per endpoint.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/llm"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

const (
	chatCompletionsPath = "/chat/completions"
	streamPrefix        = "data: "
	streamDone          = "[DONE]"
)

// Client is an OpenAI-compatible provider client for one physical endpoint.
type Client struct {
	route      *config.ModelRoute
	httpClient *http.Client
}

var _ llm.ProviderClient = (*Client)(nil)

// New creates a client for the given route. Each client gets its own
// transport to avoid sharing connection state across unrelated providers.
func New(route *config.ModelRoute) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		route: route,
		// No client-level timeout: the overall budget is the caller's, and
		// a streaming response may legitimately outlive any fixed value.
		httpClient: &http.Client{Transport: transport},
	}
}

// Name returns the physical model name this client serves.
func (c *Client) Name() string { return c.route.Name }

// Chat performs one blocking chat completion.
func (c *Client) Chat(ctx context.Context, messages []models.Message, opts llm.ChatOptions) (*models.ChatResult, error) {
	body, err := c.buildRequestBody(messages, opts, false)
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = respBody.Close() }()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.NewError(llm.KindResponseInvalid, c.route.Name,
			"failed to decode response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(llm.KindResponseInvalid, c.route.Name,
			"response contained no choices", llm.ErrEmptyResponse)
	}

	result := &models.ChatResult{Content: resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		result.Usage = resp.Usage.toModel()
	}
	return result, nil
}

// ChatStream performs one streaming chat completion. The goroutine feeding
// the returned channel preserves the provider's token order and emits the
// terminal usage chunk at most once, just before close.
func (c *Client) ChatStream(ctx context.Context, messages []models.Message, opts llm.ChatOptions) (<-chan models.StreamChunk, error) {
	body, err := c.buildRequestBody(messages, opts, true)
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	chunks := make(chan models.StreamChunk)
	go c.streamResponse(ctx, respBody, chunks)
	return chunks, nil
}

func (c *Client) buildRequestBody(messages []models.Message, opts llm.ChatOptions, stream bool) ([]byte, error) {
	if len(messages) == 0 {
		return nil, llm.NewError(llm.KindInputInvalid, c.route.Name,
			"at least one message is required", nil)
	}

	req := map[string]any{
		"model":    c.route.UpstreamModel,
		"messages": messages,
		"stream":   stream,
	}
	if stream {
		// Ask the upstream to report usage on the final chunk.
		req["stream_options"] = map[string]any{"include_usage": true}
	}
	if opts.Temperature != nil {
		req["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req["max_tokens"] = *opts.MaxTokens
	}
	if opts.EnableThinking {
		req["enable_thinking"] = true
	}
	for k, v := range opts.Extra {
		req[k] = v
	}

	return json.Marshal(req)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (io.ReadCloser, error) {
	url := c.route.BaseURL + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewError(llm.KindInputInvalid, c.route.Name,
			"failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.route.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.NewError(llm.KindOfTransport(err), c.route.Name,
			"request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		kind := llm.KindOfStatus(resp.StatusCode)
		return nil, llm.NewError(kind, c.route.Name,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, string(errBody)))
	}

	return resp.Body, nil
}

func (c *Client) streamResponse(ctx context.Context, body io.ReadCloser, chunks chan<- models.StreamChunk) {
	defer close(chunks)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage *models.Usage

	send := func(chunk models.StreamChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			send(models.StreamChunk{Err: llm.NewError(llm.KindCancelled, c.route.Name, "stream cancelled", ctx.Err())})
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, streamPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, streamPrefix)
		if data == streamDone {
			break
		}

		var event streamChunk
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if event.Usage != nil {
			usage = event.Usage.toModel()
		}
		if len(event.Choices) == 0 {
			continue
		}

		delta := event.Choices[0].Delta
		if delta.ReasoningContent != "" {
			if !send(models.StreamChunk{Type: models.ChunkThinking, Content: delta.ReasoningContent}) {
				return
			}
		}
		if delta.Content != "" {
			if !send(models.StreamChunk{Type: models.ChunkToken, Content: delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(models.StreamChunk{Err: llm.NewError(llm.KindOfTransport(err), c.route.Name, "stream read failed", err)})
		return
	}

	// Absence of usage is permitted; it means "not available".
	if usage != nil {
		send(models.StreamChunk{Type: models.ChunkUsage, Usage: usage})
	}
}

// Wire types.

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *wireUsage) toModel() *models.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &models.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}

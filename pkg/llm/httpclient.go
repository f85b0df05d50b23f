package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPLLMClient is the production LLMClient: a single JSON request/response
// call to an external chat/tool-calling endpoint, presented to callers as a
// one-shot chunk stream for interface parity with a genuinely streaming
// provider.
type HTTPLLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewHTTPLLMClient builds a client bound to baseURL (e.g.
// "https://api.example.com/v1/chat"), authenticating with apiKey as a
// bearer token. model is sent on every request whose GenerateInput leaves
// Model unset, so a Loop never needs to know which model its LLMClient
// talks to.
func NewHTTPLLMClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPLLMClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPLLMClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

type chatResponse struct {
	Text      string     `json:"text"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate issues a single HTTP POST and translates the JSON response into
// a buffered chunk channel: a thinking chunk (if present), a text chunk, a
// tool-call chunk per requested tool call, and a terminating usage chunk.
// A transport or non-2xx error becomes an *ErrorChunk rather than a
// returned error, so callers always drain the channel to completion.
func (c *HTTPLLMClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	model := input.Model
	if model == "" {
		model = c.model
	}
	reqBody := chatRequest{Model: model, Tools: input.Tools}
	for _, m := range input.Messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{
			Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls,
			ToolCallID: m.ToolCallID, ToolName: m.ToolName,
		})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			ch <- &ErrorChunk{Message: fmt.Sprintf("build request: %v", err)}
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			ch <- &ErrorChunk{Message: fmt.Sprintf("call llm provider: %v", err), Retryable: true}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			ch <- &ErrorChunk{Message: fmt.Sprintf("llm provider returned HTTP %d", resp.StatusCode), Retryable: true}
			return
		}
		if resp.StatusCode != http.StatusOK {
			ch <- &ErrorChunk{Message: fmt.Sprintf("llm provider returned HTTP %d", resp.StatusCode)}
			return
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			ch <- &ErrorChunk{Message: fmt.Sprintf("decode llm response: %v", err)}
			return
		}

		if out.Thinking != "" {
			ch <- &ThinkingChunk{Content: out.Thinking}
		}
		if out.Text != "" {
			ch <- &TextChunk{Content: out.Text}
		}
		for _, tc := range out.ToolCalls {
			ch <- &ToolCallChunk{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		ch <- &UsageChunk{Usage: TokenUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.TotalTokens,
		}}
	}()
	return ch, nil
}

// Close is a no-op: *http.Client has no connection to release explicitly
// beyond its idle-conn pool, which is reclaimed by the transport itself.
func (c *HTTPLLMClient) Close() error { return nil }

var _ LLMClient = (*HTTPLLMClient)(nil)

// Response collects a drained chunk stream into one value, the shape every
// caller (the Verifier's semantic stage, each agent loop turn) actually
// wants.
type Response struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// CollectStream drains ch to completion and assembles a Response. An
// *ErrorChunk anywhere in the stream becomes a returned error; partial
// text already received is discarded, matching tarsy's own
// collectStream/callLLM contract (an error means the turn did not
// succeed, full stop).
func CollectStream(ch <-chan Chunk) (*Response, error) {
	var resp Response
	for chunk := range ch {
		switch c := chunk.(type) {
		case *TextChunk:
			resp.Text += c.Content
		case *ThinkingChunk:
			resp.Thinking += c.Content
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *UsageChunk:
			resp.Usage = c.Usage
		case *ErrorChunk:
			return nil, fmt.Errorf("llm: %s", c.Message)
		}
	}
	return &resp, nil
}

// Call is the convenience one-shot entry point used by both the Verifier's
// semantic stage and every turn of the agent loop.
func Call(ctx context.Context, client LLMClient, input *GenerateInput) (*Response, error) {
	stream, err := client.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llm: generate: %w", err)
	}
	return CollectStream(stream)
}

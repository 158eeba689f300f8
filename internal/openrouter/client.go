package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"llmchat/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrMissingAPIKey = errors.New("openrouter api key is not configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	GenerationID     string `json:"generationId,omitempty"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
	ReasoningTokens  *int   `json:"reasoningTokens,omitempty"`
	CostMicrosUSD    *int   `json:"costMicrosUsd,omitempty"`
}

type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

type StreamRequest struct {
	Model     string           `json:"model"`
	Messages  []Message        `json:"messages"`
	Reasoning *ReasoningConfig `json:"reasoning,omitempty"`
}

// StreamHandlers receive decoded stream events. Any handler may be nil; a
// handler error stops the stream and is returned as is.
type StreamHandlers struct {
	OnDelta     func(string) error
	OnReasoning func(string) error
	OnUsage     func(Usage) error
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.StatusCode, e.Body)
}

type streamAPIRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	Reasoning     *ReasoningConfig `json:"reasoning,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamAPIUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	Cost json.RawMessage `json:"cost"`
}

type streamAPIChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningDetails []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"reasoning_details"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *streamAPIUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		httpClient: httpClient,
	}
}

// StreamChatCompletion posts a streaming chat completion and feeds the
// upstream SSE events to handlers until [DONE], EOF or ctx ends.
func (c Client) StreamChatCompletion(ctx context.Context, req StreamRequest, handlers StreamHandlers) error {
	if strings.TrimSpace(c.apiKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}

	var reasoning *ReasoningConfig
	if req.Reasoning != nil {
		if effort := strings.TrimSpace(req.Reasoning.Effort); effort != "" {
			reasoning = &ReasoningConfig{Effort: effort}
		}
	}

	payload, err := json.Marshal(streamAPIRequest{
		Model:         strings.TrimSpace(req.Model),
		Messages:      req.Messages,
		Reasoning:     reasoning,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return consumeStream(resp.Body, handlers)
}

func consumeStream(body io.Reader, handlers StreamHandlers) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk streamAPIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Error != nil && strings.TrimSpace(chunk.Error.Message) != "" {
			return errors.New(strings.TrimSpace(chunk.Error.Message))
		}

		for _, choice := range chunk.Choices {
			reasoning := choice.Delta.Reasoning
			for _, detail := range choice.Delta.ReasoningDetails {
				if detail.Type == "reasoning.text" {
					reasoning += detail.Text
				}
			}
			if reasoning != "" && handlers.OnReasoning != nil {
				if err := handlers.OnReasoning(reasoning); err != nil {
					return err
				}
			}
			if choice.Delta.Content != "" && handlers.OnDelta != nil {
				if err := handlers.OnDelta(choice.Delta.Content); err != nil {
					return err
				}
			}
		}

		if chunk.Usage != nil && handlers.OnUsage != nil {
			if err := handlers.OnUsage(usageFromAPI(chunk.ID, *chunk.Usage)); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read openrouter stream: %w", err)
	}
	return nil
}

func usageFromAPI(generationID string, raw streamAPIUsage) Usage {
	usage := Usage{
		GenerationID:     strings.TrimSpace(generationID),
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
		CostMicrosUSD:    parseCostMicros(raw.Cost),
	}
	if raw.CompletionTokensDetails != nil {
		reasoningTokens := raw.CompletionTokensDetails.ReasoningTokens
		usage.ReasoningTokens = &reasoningTokens
	}
	return usage
}

// parseCostMicros accepts the cost as a JSON number or a decimal string.
func parseCostMicros(raw json.RawMessage) *int {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		value = strings.TrimSpace(asString)
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return nil
	}
	micros := int(math.Round(parsed * 1_000_000))
	return &micros
}

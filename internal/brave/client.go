package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"llmchat/backend/internal/config"
)

const (
	maxErrorBodyBytes = 8 * 1024
	maxQueryWords     = 50
	defaultCount      = 5
	maxCount          = 20
)

var ErrMissingAPIKey = errors.New("brave api key is not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("brave returned %d: %s", e.StatusCode, e.Body)
}

// Query is one web search. Country narrows results to a two-letter
// region when set.
type Query struct {
	Text    string
	Count   int
	Country string
}

type Result struct {
	URL     string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type searchResponse struct {
	Web struct {
		Results []searchHit `json:"results"`
	} `json:"web"`
	Results []searchHit `json:"results"`
}

type searchHit struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Snippet       string   `json:"snippet"`
	ExtraSnippets []string `json:"extra_snippets"`
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BraveBaseURL), "/"),
		httpClient: httpClient,
	}
}

func (c Client) Configured() bool {
	return c.apiKey != ""
}

func (c Client) Search(ctx context.Context, q Query) ([]Result, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	text := limitWords(q.Text, maxQueryWords)
	if text == "" {
		return nil, nil
	}
	count := q.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	endpoint, err := url.Parse(c.baseURL + "/web/search")
	if err != nil {
		return nil, fmt.Errorf("parse brave endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", text)
	params.Set("count", strconv.Itoa(count))
	params.Set("spellcheck", "0")
	params.Set("text_decorations", "0")
	if country := strings.ToLower(strings.TrimSpace(q.Country)); len(country) == 2 {
		params.Set("country", country)
	}
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	hits := parsed.Web.Results
	if len(hits) == 0 {
		hits = parsed.Results
	}
	return dedupe(hits, count), nil
}

func dedupe(hits []searchHit, limit int) []Result {
	out := make([]Result, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		link := strings.TrimSpace(hit.URL)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		out = append(out, Result{
			URL:     link,
			Title:   firstNonEmpty(plainText(hit.Title), link),
			Snippet: plainText(firstNonEmpty(append([]string{hit.Description, hit.Snippet}, hit.ExtraSnippets...)...)),
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func limitWords(input string, maxWords int) string {
	words := strings.Fields(input)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

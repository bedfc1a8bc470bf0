package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voidxp/voidgate/internal/config"
)

const (
	tavilyTimeout  = 3500 * time.Millisecond
	braveTimeout   = 3500 * time.Millisecond
	searxngTimeout = 5 * time.Second
)

// result is one web hit, provider-independent.
type result struct {
	Title   string
	URL     string
	Snippet string
}

// Service enriches prompts with fresh web results. Backends are tried in a
// fixed order with individual deadlines; the first one that answers wins
// and the rendered block is cached per query.
type Service struct {
	cfg    config.SearchConfig
	client *http.Client
	cache  *resultCache
}

func NewService(cfg config.SearchConfig) *Service {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		cfg: cfg,
		// Per-backend deadlines come from the call context.
		client: &http.Client{},
		cache:  newResultCache(cfg.CacheTTL),
	}
}

// Enrich returns a rendered search block for the query. ok is false when
// search is off, the prompt doesn't need it, or every backend failed.
// Backend failures degrade to no enrichment; they never fail the request.
func (s *Service) Enrich(ctx context.Context, query string) (string, bool) {
	if !s.cfg.Enabled {
		return "", false
	}
	query = strings.TrimSpace(query)
	if query == "" || !NeedsSearch(query) {
		return "", false
	}

	cacheKey := "search:" + query
	if block, ok := s.cache.get(cacheKey); ok {
		return block, true
	}

	results := s.run(ctx, query)
	if len(results) == 0 {
		return "", false
	}
	if len(results) > s.cfg.MaxResults {
		results = results[:s.cfg.MaxResults]
	}

	block := renderBlock(results)
	s.cache.set(cacheKey, block)
	return block, true
}

func (s *Service) run(ctx context.Context, query string) []result {
	type backend struct {
		name       string
		configured bool
		timeout    time.Duration
		call       func(context.Context, string) ([]result, error)
	}
	backends := []backend{
		{"tavily", s.cfg.TavilyAPIKey != "", tavilyTimeout, s.tavily},
		{"brave", s.cfg.BraveAPIKey != "", braveTimeout, s.brave},
		{"searxng", s.cfg.SearXNGURL != "", searxngTimeout, s.searxng},
	}

	for _, b := range backends {
		if !b.configured {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		results, err := b.call(callCtx, query)
		cancel()
		if err != nil {
			slog.Debug("search backend failed", "backend", b.name, "error", err)
			continue
		}
		if len(results) > 0 {
			return results
		}
	}
	return nil
}

func (s *Service) tavily(ctx context.Context, query string) ([]result, error) {
	payload := map[string]interface{}{
		"api_key":             s.cfg.TavilyAPIKey,
		"query":               query,
		"search_depth":        "basic",
		"include_answer":      true,
		"include_raw_content": false,
		"max_results":         s.cfg.MaxResults,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TavilyBaseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.cfg.TavilyAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]result, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

func (s *Service) brave(ctx context.Context, query string) ([]result, error) {
	u := fmt.Sprintf("%s/v1/web/search?q=%s&count=%d",
		s.cfg.BraveBaseURL, url.QueryEscape(query), s.cfg.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.cfg.BraveAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned status %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		out = append(out, result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func (s *Service) searxng(ctx context.Context, query string) ([]result, error) {
	u := fmt.Sprintf("%s/search?q=%s&format=json&safesearch=1&pageno=1",
		strings.TrimRight(s.cfg.SearXNGURL, "/"), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]result, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

// renderBlock formats results for inline inclusion in a prompt.
func renderBlock(results []result) string {
	var b strings.Builder
	b.WriteString("--- Web Search Results ---\n")
	for i, r := range results {
		b.WriteString("[" + strconv.Itoa(i+1) + "] " + r.Title + "\n")
		b.WriteString("    " + r.URL + "\n")
		if r.Snippet != "" {
			b.WriteString("    " + r.Snippet + "\n")
		}
	}
	b.WriteString("--- End of Search Results ---")
	return b.String()
}

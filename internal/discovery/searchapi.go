package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xxxsen/legisrag/internal/config"
)

// searchAPIAdapter talks to a JSON web search endpoint. Result lists are read
// from "results", "organic_results" or "items", whichever is present.
type searchAPIAdapter struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

type searchAPIItem struct {
	URL         string `json:"url"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
}

type searchAPIResponse struct {
	Results        []searchAPIItem `json:"results"`
	OrganicResults []searchAPIItem `json:"organic_results"`
	Items          []searchAPIItem `json:"items"`
}

func (a *searchAPIAdapter) Name() string {
	return "searchapi"
}

func (a *searchAPIAdapter) Discover(ctx context.Context, query string, limit int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	if limit > 0 {
		q.Set("num", strconv.Itoa(limit))
	}
	if a.apiKey != "" {
		q.Set("api_key", a.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search api status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var parsed searchAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	items := parsed.Results
	if len(items) == 0 {
		items = parsed.OrganicResults
	}
	if len(items) == 0 {
		items = parsed.Items
	}

	out := make([]Candidate, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		link := firstNonEmpty(item.URL, item.Link)
		if !isFetchableURL(link) {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, Candidate{
			URL:     link,
			Title:   strings.TrimSpace(firstNonEmpty(item.Title, item.Name)),
			Snippet: strings.TrimSpace(firstNonEmpty(item.Snippet, item.Description)),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func isFetchableURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func createSearchAPIAdapter(cfg config.DiscoveryConfig, client *http.Client) (Adapter, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("discovery.endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &searchAPIAdapter{
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: cfg.UserAgent,
		client:    client,
	}, nil
}

func init() {
	Register("searchapi", createSearchAPIAdapter)
}

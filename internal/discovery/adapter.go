package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xxxsen/legisrag/internal/config"
)

// Candidate is a document a search provider pointed us at. Nothing has been
// fetched yet.
type Candidate struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type Adapter interface {
	Name() string
	Discover(ctx context.Context, query string, limit int) ([]Candidate, error)
}

type AdapterFactory func(cfg config.DiscoveryConfig, client *http.Client) (Adapter, error)

var registry = map[string]AdapterFactory{}

func Register(name string, factory AdapterFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewAdapter(cfg config.DiscoveryConfig, client *http.Client) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Provider))
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported discovery provider: %s", cfg.Provider)
	}
	return factory(cfg, client)
}

package translation

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ProviderLLM   = "llm"
	ProviderLocal = "local"
	// ProviderNone disables the translation stage.
	ProviderNone = "none"
)

// Registry resolves providers by name. An empty name resolves to the
// fallback provider, which must be registered.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry registers providers under their Name and checks that fallback
// is one of them.
func NewRegistry(fallback string, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		fallback:  normalizeProviderName(fallback),
	}
	if r.fallback == "" {
		r.fallback = ProviderLLM
	}
	for _, provider := range providers {
		if provider == nil {
			return nil, fmt.Errorf("translation provider is nil")
		}
		name := normalizeProviderName(provider.Name())
		if name == "" || name == ProviderNone {
			return nil, fmt.Errorf("invalid translation provider name %q", provider.Name())
		}
		r.providers[name] = provider
	}
	if _, ok := r.providers[r.fallback]; !ok {
		return nil, fmt.Errorf("fallback translation provider %q is not registered (available: %s)", r.fallback, strings.Join(r.names(), ", "))
	}
	return r, nil
}

// Provider resolves name, or the fallback provider when name is empty.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	resolved := normalizeProviderName(name)
	if resolved == "" {
		resolved = r.fallback
	}
	if provider, ok := r.providers[resolved]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("translation provider %q is not registered (available: %s)", resolved, strings.Join(r.names(), ", "))
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

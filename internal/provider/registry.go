package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrProviderNotFound is returned when a requested provider config doesn't
// exist in the registry.
var ErrProviderNotFound = errors.New("provider not found")

// Registry holds configured providers by name and resolves an Adapter plus
// its backing ProviderConfig for a given (provider, model) pair.
type Registry struct {
	client    HTTPDoer
	providers map[string]ProviderConfig
}

// NewRegistry creates a Registry backed by a shared HTTP client.
func NewRegistry(client HTTPDoer) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	return &Registry{client: client, providers: make(map[string]ProviderConfig)}
}

// Register adds or replaces a provider configuration.
func (r *Registry) Register(cfg ProviderConfig) {
	r.providers[cfg.ID] = cfg
}

// Get returns the configuration for a provider id.
func (r *Registry) Get(id string) (ProviderConfig, error) {
	cfg, ok := r.providers[id]
	if !ok {
		log.Error().Str("provider", id).Msg("registry: provider not found")
		return ProviderConfig{}, ErrProviderNotFound
	}
	return cfg, nil
}

// List returns all registered provider ids.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Resolve returns the Adapter implementation for a (provider, model) pair,
// bound to this registry's shared HTTP client.
func (r *Registry) Resolve(providerID string, model Model) (Adapter, ProviderConfig, error) {
	cfg, err := r.Get(providerID)
	if err != nil {
		return nil, ProviderConfig{}, err
	}
	format := ResolveFormat(model, cfg)
	return NewAdapter(format, r.client), cfg, nil
}

// TaggedModel pairs a provider id with a model discovered from it.
type TaggedModel struct {
	ProviderID string
	Model      Model
}

// ModelLister is implemented by providers that expose a model-listing
// endpoint (e.g. a local Ollama-compatible host's /api/tags).
type ModelLister interface {
	ListModels(ctx context.Context, cfg ProviderConfig) ([]Model, error)
}

// ListAllModels concurrently fetches models from every registered provider
// that has a lister configured, tolerating and logging individual provider
// failures rather than failing the whole aggregate call.
func (r *Registry) ListAllModels(ctx context.Context, listers map[string]ModelLister) []TaggedModel {
	type result struct {
		id     string
		models []Model
	}
	ch := make(chan result, len(r.providers))
	pending := 0
	for id, cfg := range r.providers {
		lister, ok := listers[id]
		if !ok {
			continue
		}
		pending++
		id, cfg := id, cfg
		go func() {
			models, err := lister.ListModels(ctx, cfg)
			if err != nil {
				log.Warn().Str("provider", id).Err(err).Msg("ListAllModels: provider error")
				ch <- result{id: id}
				return
			}
			ch <- result{id: id, models: models}
		}()
	}
	var all []TaggedModel
	for i := 0; i < pending; i++ {
		res := <-ch
		for _, m := range res.models {
			all = append(all, TaggedModel{ProviderID: res.id, Model: m})
		}
	}
	return all
}

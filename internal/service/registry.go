package service

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
)

type registryKey struct {
	provider domain.Provider
	label    string
}

// ModelRegistry maps (provider, label) pairs to backend descriptors.
type ModelRegistry struct {
	backends map[registryKey]domain.BackendDescriptor
	entries  []config.CatalogueEntry
}

func NewModelRegistry(entries []config.CatalogueEntry) (*ModelRegistry, error) {
	r := &ModelRegistry{backends: make(map[registryKey]domain.BackendDescriptor, len(entries))}
	for _, e := range entries {
		key := registryKey{provider: domain.Provider(e.Provider), label: e.Label}
		if e.Label == "" {
			return nil, fmt.Errorf("catalogue entry for %q has no label", e.Provider)
		}
		if _, dup := r.backends[key]; dup {
			return nil, fmt.Errorf("duplicate catalogue entry %s-%s", e.Provider, e.Label)
		}

		backend := domain.BackendDescriptor{Provider: key.provider}
		switch key.provider {
		case domain.ProviderOpenAI:
			if e.Model == "" {
				return nil, fmt.Errorf("openai entry %q needs a model", e.Label)
			}
			backend.Model = e.Model
		case domain.ProviderAzure:
			if e.Deployment == "" {
				return nil, fmt.Errorf("azure entry %q needs a deployment", e.Label)
			}
			backend.Deployment = e.Deployment
			backend.APIVersion = e.APIVersion
			if backend.APIVersion == "" {
				backend.APIVersion = config.AzureAPIVersion
				e.APIVersion = config.AzureAPIVersion
			}
		default:
			return nil, fmt.Errorf("unknown provider %q for %q", e.Provider, e.Label)
		}

		r.backends[key] = backend
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// LoadModelRegistry reads the catalogue from a JSON file, or uses the
// built-in catalogue when path is empty.
func LoadModelRegistry(path string) (*ModelRegistry, error) {
	if path == "" {
		return NewModelRegistry(config.DefaultCatalogue)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model map: %w", err)
	}
	var entries []config.CatalogueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse model map: %w", err)
	}
	return NewModelRegistry(entries)
}

// Resolve never fails loudly: unknown pairs report ok=false.
func (r *ModelRegistry) Resolve(provider domain.Provider, label string) (domain.BackendDescriptor, bool) {
	backend, ok := r.backends[registryKey{provider: provider, label: label}]
	return backend, ok
}

func (r *ModelRegistry) Entries() []config.CatalogueEntry {
	out := make([]config.CatalogueEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

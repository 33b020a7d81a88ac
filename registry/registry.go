package registry

import (
	"fmt"

	"github.com/studora/ragpipe/services/embedding_service"
	"github.com/studora/ragpipe/services/llm_service"
)

// ProviderRegistry maps configured provider names to their service
// implementations. Registration happens once in main; lookups afterwards are
// read-only, so no locking is needed.
type ProviderRegistry struct {
	completionServices map[string]llm_service.CompletionService
	embeddingAdapters  map[string]embedding_service.Adapter
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		completionServices: make(map[string]llm_service.CompletionService),
		embeddingAdapters:  make(map[string]embedding_service.Adapter),
	}
}

// RegisterCompletionService registers a completion provider by name.
func (pr *ProviderRegistry) RegisterCompletionService(name string, service llm_service.CompletionService) {
	pr.completionServices[name] = service
}

// GetCompletionService returns a completion service by name.
func (pr *ProviderRegistry) GetCompletionService(name string) (llm_service.CompletionService, error) {
	service, ok := pr.completionServices[name]
	if !ok {
		return nil, fmt.Errorf("unknown completion provider: %s", name)
	}
	return service, nil
}

// RegisterEmbeddingAdapter registers an embedding provider by name.
func (pr *ProviderRegistry) RegisterEmbeddingAdapter(name string, adapter embedding_service.Adapter) {
	pr.embeddingAdapters[name] = adapter
}

// GetEmbeddingAdapter returns an embedding adapter by name.
func (pr *ProviderRegistry) GetEmbeddingAdapter(name string) (embedding_service.Adapter, error) {
	adapter, ok := pr.embeddingAdapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	return adapter, nil
}

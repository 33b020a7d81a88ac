package provider

// Capability describes what a configured provider can serve.
type Capability string

const (
	CapabilityEmbedding  Capability = "embedding"
	CapabilityCompletion Capability = "completion"
)

// Descriptor identifies one configured provider endpoint. Priority follows
// configuration order: index 0 is tried first. The rate limiter is mutable,
// process-local state shared by every call through this provider.
type Descriptor struct {
	Name       string
	Capability Capability
	APIKey     string
	APIURL     string
	Model      string
	// Dimension is the fixed embedding dimension the provider produces.
	// Zero for completion-only providers.
	Dimension int
	Limiter   *RateLimiter
}

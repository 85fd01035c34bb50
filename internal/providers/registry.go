package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the LLM clients, TTS engines and embedders available to a
// project, keyed by configured name. Each LLM client has its own
// RateLimiter.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	limiters   map[string]*RateLimiter
	tts        map[string]TTSProvider
	embedders  map[string]Embedder
	configs    map[string]ProviderConfig
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		limiters:   make(map[string]*RateLimiter),
		tts:        make(map[string]TTSProvider),
		embedders:  make(map[string]Embedder),
		configs:    make(map[string]ProviderConfig),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name with a limiter of rpm
// requests per minute.
func (r *Registry) RegisterLLM(name string, client LLMClient, rpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	r.limiters[name] = NewRateLimiter(rpm)
	if e, ok := client.(Embedder); ok {
		r.embedders[name] = e
	}
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// RegisterTTS registers a TTS engine by name.
func (r *Registry) RegisterTTS(name string, provider TTSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = provider
	if r.logger != nil {
		r.logger.Info("registered TTS engine", "name", name)
	}
}

// Unregister removes every capability registered under name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(name)
}

func (r *Registry) unregisterLocked(name string) {
	_, hadLLM := r.llmClients[name]
	_, hadTTS := r.tts[name]
	delete(r.llmClients, name)
	delete(r.limiters, name)
	delete(r.embedders, name)
	delete(r.tts, name)
	delete(r.configs, name)
	if r.logger != nil && (hadLLM || hadTTS) {
		r.logger.Info("unregistered provider", "name", name)
	}
}

// GetLLM returns an LLM client and its limiter by name.
func (r *Registry) GetLLM(name string) (LLMClient, *RateLimiter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, r.limiters[name], nil
}

// GetTTS returns a TTS engine by name.
func (r *Registry) GetTTS(name string) (TTSProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tts[name]
	if !ok {
		return nil, fmt.Errorf("TTS engine not found: %s", name)
	}
	return p, nil
}

// GetEmbedder returns an embedder by name.
func (r *Registry) GetEmbedder(name string) (Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.embedders[name]
	if !ok {
		return nil, fmt.Errorf("embedder not found: %s", name)
	}
	return e, nil
}

// ListLLM returns the registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.llmClients)
}

// ListTTS returns the registered TTS engine names, sorted.
func (r *Registry) ListTTS() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tts)
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
}

// ProviderConfig matches config.ProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type      string // "openrouter", "openai", "gemini", "openai-tts", "elevenlabs", "mock", "mock-tts"
	Model     string
	Voice     string
	BaseURL   string
	APIKey    string
	RateLimit int // requests per minute
	Enabled   bool
}

func (c ProviderConfig) needsKey() bool {
	return c.Type != "mock" && c.Type != "mock-tts"
}

// NewRegistryFromConfig creates a registry with providers based on
// configuration. Only enabled providers with an API key are registered.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig) (*Registry, error) {
	r := NewRegistry()
	if err := r.Reload(ctx, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload updates the registry from cfg. Providers no longer configured are
// unregistered; providers whose settings changed are rebuilt.
func (r *Registry) Reload(ctx context.Context, cfg RegistryConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, pc := range cfg.Providers {
		if !pc.Enabled || (pc.needsKey() && pc.APIKey == "") {
			continue
		}
		want[name] = true
		old, exists := r.configs[name]
		if exists && old == pc {
			continue
		}
		if exists {
			r.unregisterLocked(name)
		}
		if err := r.createLocked(ctx, name, pc); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		r.configs[name] = pc
		if r.logger != nil {
			verb := "registered"
			if exists {
				verb = "updated"
			}
			r.logger.Info(verb+" provider", "name", name, "type", pc.Type)
		}
	}
	for name := range r.configs {
		if !want[name] {
			r.unregisterLocked(name)
		}
	}
	return nil
}

func (r *Registry) createLocked(ctx context.Context, name string, pc ProviderConfig) error {
	var llm LLMClient
	switch pc.Type {
	case "openrouter":
		llm = NewOpenRouterClient(OpenRouterConfig{APIKey: pc.APIKey, DefaultModel: pc.Model, BaseURL: pc.BaseURL})
	case "openai":
		llm = NewOpenAIClient(OpenAIConfig{APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL})
	case "gemini":
		c, err := NewGeminiClient(ctx, GeminiConfig{APIKey: pc.APIKey, Model: pc.Model})
		if err != nil {
			return err
		}
		llm = c
	case "mock":
		llm = NewMockClient()
	case "openai-tts":
		r.tts[name] = NewOpenAITTSClient(OpenAITTSConfig{APIKey: pc.APIKey, Model: pc.Model, Voice: pc.Voice, BaseURL: pc.BaseURL})
		return nil
	case "elevenlabs":
		r.tts[name] = NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: pc.APIKey, Model: pc.Model, Voice: pc.Voice, BaseURL: pc.BaseURL})
		return nil
	case "mock-tts":
		r.tts[name] = NewMockTTS()
		return nil
	default:
		return fmt.Errorf("unknown provider type %q", pc.Type)
	}
	r.llmClients[name] = llm
	r.limiters[name] = NewRateLimiter(pc.RateLimit)
	if e, ok := llm.(Embedder); ok {
		r.embedders[name] = e
	}
	return nil
}

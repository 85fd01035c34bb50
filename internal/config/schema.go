package config

import "time"

// Config holds clara configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers  map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" validate:"dive"`
	LLM        LLMCfg                 `mapstructure:"llm" yaml:"llm"`
	Annotation AnnotationCfg          `mapstructure:"annotation" yaml:"annotation"`
	TTS        TTSCfg                 `mapstructure:"tts" yaml:"tts"`
	Audio      AudioCfg               `mapstructure:"audio" yaml:"audio"`
	Render     RenderCfg              `mapstructure:"render" yaml:"render"`
	Storage    StorageCfg             `mapstructure:"storage" yaml:"storage"`
}

// ProviderCfg configures an LLM or TTS provider.
type ProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type" validate:"required,oneof=openrouter openai gemini openai-tts elevenlabs mock mock-tts"`
	Model     string `mapstructure:"model" yaml:"model"`
	Voice     string `mapstructure:"voice" yaml:"voice,omitempty"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // supports ${ENV_VAR} syntax
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// LLMCfg selects the provider used for annotation.
type LLMCfg struct {
	Provider       string        `mapstructure:"provider" yaml:"provider" validate:"required"`
	Model          string        `mapstructure:"model" yaml:"model"`
	Embedder       string        `mapstructure:"embedder" yaml:"embedder,omitempty"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AnnotationCfg tunes the annotation engine.
type AnnotationCfg struct {
	MaxElementsPerChunk int  `mapstructure:"max_elements_per_chunk" yaml:"max_elements_per_chunk" validate:"gte=0"`
	ReuseThreshold      int  `mapstructure:"reuse_threshold" yaml:"reuse_threshold" validate:"gte=0"`
	RepairRetries       int  `mapstructure:"repair_retries" yaml:"repair_retries" validate:"gte=0"`
	MWEStrict           bool `mapstructure:"mwe_strict" yaml:"mwe_strict"`
	FewShot             int  `mapstructure:"few_shot" yaml:"few_shot" validate:"gte=0"`
}

// TTSCfg lists the TTS engines in preference order.
type TTSCfg struct {
	Engines []string `mapstructure:"engines" yaml:"engines"`
	// Voices maps language names to voices.
	Voices     map[string]string `mapstructure:"voices" yaml:"voices,omitempty"`
	MaxRetries int               `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

// AudioCfg configures audio annotation.
type AudioCfg struct {
	ContextLength  int    `mapstructure:"context_length" yaml:"context_length" validate:"gte=0,lte=1000"`
	FFmpegBinary   string `mapstructure:"ffmpeg_binary" yaml:"ffmpeg_binary"`
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`
}

// RenderCfg configures rendering.
type RenderCfg struct {
	URLPrefix string `mapstructure:"url_prefix" yaml:"url_prefix"`
	FontType  string `mapstructure:"font_type" yaml:"font_type"`
	FontSize  string `mapstructure:"font_size" yaml:"font_size" validate:"omitempty,oneof=small medium large huge"`
	TextAlign string `mapstructure:"text_align" yaml:"text_align" validate:"omitempty,oneof=left center right justify"`
}

// StorageCfg locates project data and the blob store for exports.
type StorageCfg struct {
	Home string  `mapstructure:"home" yaml:"home"`
	Blob BlobCfg `mapstructure:"blob" yaml:"blob"`
}

// BlobCfg selects where published exports go.
type BlobCfg struct {
	Backend   string `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=fs minio"`
	Dir       string `mapstructure:"dir" yaml:"dir,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"required_if=Backend minio"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty" validate:"required_if=Backend minio"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openrouter": {
				Type:    "openrouter",
				Model:   "anthropic/claude-sonnet-4",
				APIKey:  "${OPENROUTER_API_KEY}",
				Enabled: true,
			},
			"openai": {
				Type:    "openai",
				Model:   "gpt-4o",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: false,
			},
			"openai-tts": {
				Type:    "openai-tts",
				Model:   "gpt-4o-mini-tts",
				Voice:   "alloy",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: false,
			},
			"elevenlabs": {
				Type:    "elevenlabs",
				Model:   "eleven_multilingual_v2",
				APIKey:  "${ELEVENLABS_API_KEY}",
				Enabled: false,
			},
		},
		LLM: LLMCfg{
			Provider:       "openrouter",
			MaxConcurrency: 8,
			MaxRetries:     5,
			RetryDelay:     2 * time.Second,
			Timeout:        2 * time.Minute,
		},
		Annotation: AnnotationCfg{
			MaxElementsPerChunk: 100,
			ReuseThreshold:      20,
			RepairRetries:       3,
			MWEStrict:           true,
		},
		TTS: TTSCfg{
			Engines:    []string{"openai-tts", "elevenlabs"},
			MaxRetries: 3,
		},
		Audio: AudioCfg{
			ContextLength:  20,
			FFmpegBinary:   "ffmpeg",
			MaxConcurrency: 4,
		},
		Render: RenderCfg{
			URLPrefix: "/accounts",
			FontType:  "sans-serif",
			FontSize:  "medium",
			TextAlign: "left",
		},
		Storage: StorageCfg{
			Blob: BlobCfg{Backend: "fs"},
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

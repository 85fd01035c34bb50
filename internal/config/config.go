package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/repair"
)

// EnvPrefix prefixes environment overrides, e.g. CLARA_LLM_PROVIDER.
const EnvPrefix = "CLARA"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		validate:  validator.New(),
		logger:    logger,
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	// Environment variables with CLARA_ prefix
	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.clara")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return setDefaults(cm.v, DefaultConfig())
}

// setDefaults registers every leaf of the default config so that partial
// config files and environment variables override single keys. Providers
// are registered as a whole, and only when the config file has none.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	if !v.InConfig("providers") {
		v.SetDefault("providers", cfg.Providers)
	}
	delete(tree, "providers")
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, node interface{}) {
	switch n := node.(type) {
	case map[string]interface{}:
		for k, child := range n {
			flatten(v, join(prefix, k), child)
		}
	case map[interface{}]interface{}:
		if len(n) == 0 {
			v.SetDefault(prefix, map[string]string{})
		}
		for k, child := range n {
			flatten(v, join(prefix, fmt.Sprint(k)), child)
		}
	default:
		v.SetDefault(prefix, n)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// load parses the current viper state into a validated Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cm.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := cfg.Providers[cfg.LLM.Provider]; !ok {
		return nil, fmt.Errorf("invalid config: llm provider %q is not configured", cfg.LLM.Provider)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the config file in use, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Invalid edits are
// logged and the previous configuration stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		cm.logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Providers: make(map[string]providers.ProviderConfig),
	}
	for name, p := range c.Providers {
		cfg.Providers[name] = providers.ProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			Voice:     p.Voice,
			BaseURL:   p.BaseURL,
			APIKey:    ResolveEnvVars(p.APIKey),
			RateLimit: p.RateLimit,
			Enabled:   p.Enabled,
		}
	}
	return cfg
}

// AnnotateConfig returns the annotation engine settings.
func (c *Config) AnnotateConfig() annotate.Config {
	return annotate.Config{
		Model:               c.LLM.Model,
		Temperature:         c.LLM.Temperature,
		MaxElementsPerChunk: c.Annotation.MaxElementsPerChunk,
		ReuseThreshold:      c.Annotation.ReuseThreshold,
		MaxRetries:          c.LLM.MaxRetries,
		RetryDelay:          c.LLM.RetryDelay,
		MaxConcurrency:      c.LLM.MaxConcurrency,
		MWEStrict:           c.Annotation.MWEStrict,
		FewShot:             c.Annotation.FewShot,
	}
}

// RepairConfig returns the syntax repairer settings.
func (c *Config) RepairConfig() repair.Config {
	return repair.Config{
		Model:          c.LLM.Model,
		MaxRetries:     c.Annotation.RepairRetries,
		RetryDelay:     c.LLM.RetryDelay,
		MaxConcurrency: c.LLM.MaxConcurrency,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Clara configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or a .env file: OPENROUTER_API_KEY=xxx OPENAI_API_KEY=xxx ELEVENLABS_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

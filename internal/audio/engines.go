package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/clara/internal/providers"
)

// HumanEngineID is the engine id of human recordings.
const HumanEngineID = "human_voice"

// Engine is a TTS capability.
type Engine interface {
	ID() string
	Supports(language string) bool
	// DefaultVoice returns the voice used for language when none is
	// configured.
	DefaultVoice(language string) string
	// LanguageID maps a language name ("french") to the engine's id.
	LanguageID(language string) string
	// CreateMP3 synthesises text and writes it to outPath.
	CreateMP3(ctx context.Context, languageID, voiceID, text, outPath string) error
}

var languageIDs = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"mandarin":   "zh",
	"cantonese":  "yue",
	"danish":     "da",
	"dutch":      "nl",
	"english":    "en",
	"farsi":      "fa",
	"finnish":    "fi",
	"french":     "fr",
	"german":     "de",
	"greek":      "el",
	"hebrew":     "he",
	"icelandic":  "is",
	"irish":      "ga",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"norwegian":  "no",
	"polish":     "pl",
	"portuguese": "pt",
	"romanian":   "ro",
	"russian":    "ru",
	"spanish":    "es",
	"swedish":    "sv",
	"turkish":    "tr",
	"ukrainian":  "uk",
}

// LanguageID returns the ISO 639 code of a language name, or the
// lower-cased name if it is not known.
func LanguageID(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if id, ok := languageIDs[l]; ok {
		return id
	}
	return l
}

// ProviderEngine adapts a providers.TTSProvider to an Engine.
type ProviderEngine struct {
	id        string
	provider  providers.TTSProvider
	languages map[string]bool
	voices    map[string]string
	voice     string
	attempts  uint
	delay     time.Duration
	logger    *slog.Logger
}

// ProviderEngineConfig configures a ProviderEngine.
type ProviderEngineConfig struct {
	ID       string
	Provider providers.TTSProvider
	// Languages limits the supported languages; empty means all.
	Languages []string
	// Voices maps language names to voices.
	Voices map[string]string
	// Voice is the fallback voice.
	Voice      string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// NewProviderEngine creates an engine over a TTS provider.
func NewProviderEngine(cfg ProviderEngineConfig) (*ProviderEngine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("TTS provider is required")
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Provider.Name()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &ProviderEngine{
		id:       cfg.ID,
		provider: cfg.Provider,
		voices:   make(map[string]string),
		voice:    cfg.Voice,
		attempts: uint(cfg.MaxRetries),
		delay:    cfg.RetryDelay,
		logger:   cfg.Logger,
	}
	if len(cfg.Languages) > 0 {
		e.languages = make(map[string]bool)
		for _, l := range cfg.Languages {
			e.languages[strings.ToLower(l)] = true
		}
	}
	for l, v := range cfg.Voices {
		e.voices[strings.ToLower(l)] = v
	}
	return e, nil
}

// ID implements Engine.
func (e *ProviderEngine) ID() string { return e.id }

// Supports implements Engine.
func (e *ProviderEngine) Supports(language string) bool {
	return e.languages == nil || e.languages[strings.ToLower(language)]
}

// DefaultVoice implements Engine.
func (e *ProviderEngine) DefaultVoice(language string) string {
	if v, ok := e.voices[strings.ToLower(language)]; ok {
		return v
	}
	return e.voice
}

// LanguageID implements Engine.
func (e *ProviderEngine) LanguageID(language string) string {
	return LanguageID(language)
}

// CreateMP3 implements Engine. Rate limits and transient failures are
// retried.
func (e *ProviderEngine) CreateMP3(ctx context.Context, languageID, voiceID, text, outPath string) error {
	audio, err := retry.DoWithData(
		func() ([]byte, error) {
			res, err := e.provider.Generate(ctx, &providers.TTSRequest{Text: text, Voice: voiceID, Format: "mp3"})
			if err != nil {
				if rle, ok := providers.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
					select {
					case <-time.After(rle.RetryAfter):
					case <-ctx.Done():
						return nil, retry.Unrecoverable(ctx.Err())
					}
				}
				return nil, err
			}
			if len(res.Audio) == 0 {
				return nil, fmt.Errorf("empty audio")
			}
			return res.Audio, nil
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying TTS request", "engine", e.id, "language", languageID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s tts: %w", e.id, err)
	}
	return os.WriteFile(outPath, audio, 0o644)
}

// SelectEngine returns the first engine in preference order that supports
// language. Engines not named in preference follow in their given order.
func SelectEngine(engines []Engine, language string, preference []string) (Engine, error) {
	byID := make(map[string]Engine, len(engines))
	for _, e := range engines {
		byID[e.ID()] = e
	}
	for _, id := range preference {
		if e, ok := byID[id]; ok && e.Supports(language) {
			return e, nil
		}
	}
	for _, e := range engines {
		if e.Supports(language) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no TTS engine supports %s", language)
}

package providers

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAITTSName         = "openai"
	openAITTSDefaultModel = openai.SpeechModelTTS1HD
	openAITTSDefaultVoice = "alloy"

	// USD per 1M tokens; speech responses carry no usage.
	openAIGPT4oMiniTTSInputCostPer1M       = 0.60
	openAIGPT4oMiniTTSOutputAudioCostPer1M = 12.00
)

// OpenAITTSConfig holds configuration for the OpenAI TTS client.
type OpenAITTSConfig struct {
	APIKey       string
	Model        string  // "tts-1-hd" (default), "tts-1", "gpt-4o-mini-tts"
	Voice        string  // "alloy" (default)
	Speed        float64 // 0.25-4.0
	Instructions string  // used by gpt-4o-mini-tts
	MaxRetries   int     // SDK retries; negative disables
	Timeout      time.Duration
	BaseURL      string       // optional (tests)
	HTTPClient   *http.Client // optional (tests)
}

// OpenAITTSClient implements TTSProvider using the official OpenAI SDK.
// Its voices are language independent; the model infers the language from
// the text.
type OpenAITTSClient struct {
	model        string
	voice        string
	speed        float64
	instructions string
	client       openai.Client
}

// NewOpenAITTSClient creates a new OpenAI TTS client.
func NewOpenAITTSClient(cfg OpenAITTSConfig) *OpenAITTSClient {
	if cfg.Model == "" {
		cfg.Model = openAITTSDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = openAITTSDefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAITTSClient{
		model:        cfg.Model,
		voice:        cfg.Voice,
		speed:        cfg.Speed,
		instructions: cfg.Instructions,
		client:       openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAITTSClient) Name() string {
	return OpenAITTSName
}

// Generate converts text to MP3 audio.
func (c *OpenAITTSClient) Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
	start := time.Now()
	fail := func(err error, chars int) (*TTSResult, error) {
		return &TTSResult{ErrorMessage: err.Error(), CharCount: chars, ExecutionTime: time.Since(start)}, err
	}
	if req == nil {
		return fail(fmt.Errorf("request is required"), 0)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fail(fmt.Errorf("text is required"), 0)
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = c.voice
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(c.speed),
	}
	if c.instructions != "" && strings.HasPrefix(strings.ToLower(c.model), "gpt-4o-mini-tts") {
		params.Instructions = openai.String(c.instructions)
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fail(mapOpenAIError(err), len(text))
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("failed reading openai audio response: %w", err), len(text))
	}

	return &TTSResult{
		Success:       true,
		Audio:         audio,
		Format:        "mp3",
		CostUSD:       estimateOpenAITTSCostUSD(c.model, text),
		CharCount:     len(text),
		ExecutionTime: time.Since(start),
	}, nil
}

func estimateOpenAITTSCostUSD(model, text string) float64 {
	model = strings.ToLower(strings.TrimSpace(model))
	switch {
	case model == "tts-1-hd":
		return float64(len(text)) * (0.03 / 1000.0)
	case strings.HasPrefix(model, "gpt-4o-mini-tts"):
		// Roughly 4 characters per text token, 150 words per minute of audio
		// and 50 audio tokens per second.
		runes := len([]rune(text))
		textTokens := math.Ceil(float64(runes) / 4.0)
		seconds := float64(runes) / (150 * 5 / 60.0)
		audioTokens := math.Ceil(seconds * 50.0)
		return textTokens*openAIGPT4oMiniTTSInputCostPer1M/1_000_000.0 +
			audioTokens*openAIGPT4oMiniTTSOutputAudioCostPer1M/1_000_000.0
	default:
		return float64(len(text)) * (0.015 / 1000.0)
	}
}

// ListVoices returns the built-in OpenAI voices.
func (c *OpenAITTSClient) ListVoices(_ context.Context) ([]Voice, error) {
	names := []string{
		"alloy", "ash", "ballad", "coral", "echo", "fable", "nova",
		"onyx", "sage", "shimmer", "verse",
	}
	voices := make([]Voice, 0, len(names))
	for _, name := range names {
		voices = append(voices, Voice{VoiceID: name, Name: name})
	}
	return voices, nil
}

var (
	_ TTSProvider = (*OpenAITTSClient)(nil)
	_ VoiceLister = (*OpenAITTSClient)(nil)
)

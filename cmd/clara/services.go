package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/blob"
	"github.com/jackzampolin/clara/internal/config"
	"github.com/jackzampolin/clara/internal/home"
	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/jobs"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/phonetic"
	"github.com/jackzampolin/clara/internal/project"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/repair"
	"github.com/jackzampolin/clara/internal/svcctx"
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveHome picks the home directory and loads its .env file.
func resolveHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(h.EnvPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", h.EnvPath(), err)
	}
	return h, nil
}

// setup loads configuration, opens every service and attaches them to the
// command context. The returned function releases them.
func setup(cmd *cobra.Command) (context.Context, func(), error) {
	ctx := cmd.Context()
	logger := newLogger()

	h, err := resolveHome()
	if err != nil {
		return nil, nil, err
	}
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path, logger)
	if err != nil {
		return nil, nil, err
	}
	cfg := cm.Get()
	if homeDir == "" && cfg.Storage.Home != "" {
		if h, err = home.New(cfg.Storage.Home); err != nil {
			return nil, nil, err
		}
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}

	s := &svcctx.Services{Home: h, Config: cm, Logger: logger}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (context.Context, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if s.Registry, err = providers.NewRegistryFromConfig(ctx, cfg.ToProviderRegistryConfig()); err != nil {
		return fail(err)
	}
	s.Registry.SetLogger(logger)
	logger.Debug("providers loaded",
		"enabled", len(cfg.EnabledProviders()), "llm", s.Registry.ListLLM(), "tts", s.Registry.ListTTS())
	cm.OnChange(func(c *config.Config) {
		if err := s.Registry.Reload(ctx, c.ToProviderRegistryConfig()); err != nil {
			logger.Warn("failed to reload providers", "error", err)
		}
	})
	if cm.ConfigFile() != "" {
		cm.WatchConfig()
	}

	s.JobManager = jobs.NewManager(jobs.ManagerConfig{Logger: logger})
	closers = append(closers, s.JobManager.Shutdown)

	if s.Recorder, err = llmcall.NewRecorder(llmcall.RecorderConfig{SinkPath: h.LLMCallsPath(), Logger: logger}); err != nil {
		return fail(err)
	}
	closers = append(closers, s.Recorder.Close)
	s.LLMCallStore = llmcall.NewStore(h.LLMCallsPath())

	if err := wireLLM(s, cfg); err != nil {
		return fail(err)
	}

	if s.Images, err = images.OpenRepository(h.ImagesDBPath(), h.ImagesDir()); err != nil {
		return fail(err)
	}
	closers = append(closers, func() { s.Images.Close() })

	if s.AudioRepo, err = audio.OpenRepository(h.AudioDBPath(), h.AudioDir()); err != nil {
		return fail(err)
	}
	closers = append(closers, func() { s.AudioRepo.Close() })
	ffmpeg := audio.FFmpeg{Binary: cfg.Audio.FFmpegBinary}
	var proc audio.Processor = ffmpeg
	if err := ffmpeg.Available(); err != nil {
		logger.Warn("page audio disabled", "error", err)
		proc = nil
	}
	if s.Audio, err = audio.NewAnnotator(audio.AnnotatorConfig{
		Repository:     s.AudioRepo,
		Engines:        ttsEngines(s.Registry, cfg, logger),
		Processor:      proc,
		MaxConcurrency: cfg.Audio.MaxConcurrency,
		Logger:         logger,
	}); err != nil {
		return fail(err)
	}

	if s.Lexicon, err = phonetic.OpenLexicon(h.LexiconDBPath()); err != nil {
		return fail(err)
	}
	closers = append(closers, func() { s.Lexicon.Close() })

	if s.Renderer, err = render.New(h.RendersDir(), logger); err != nil {
		return fail(err)
	}

	return svcctx.WithServices(ctx, s), cleanup, nil
}

// wireLLM builds the annotation engine and repairer. A missing LLM provider
// only disables the operations that need one.
func wireLLM(s *svcctx.Services, cfg *config.Config) error {
	client, limiter, err := s.Registry.GetLLM(cfg.LLM.Provider)
	if err != nil {
		s.Logger.Warn("LLM provider unavailable, annotation disabled", "provider", cfg.LLM.Provider, "error", err)
		return nil
	}
	var embedder providers.Embedder
	if cfg.LLM.Embedder != "" {
		if embedder, err = s.Registry.GetEmbedder(cfg.LLM.Embedder); err != nil {
			return err
		}
	}
	resolver := prompts.NewResolver(prompts.NewStore(s.Home.PromptsDir()), s.Logger)

	if s.Engine, err = annotate.NewEngine(annotate.EngineConfig{
		Client:   client,
		Limiter:  limiter,
		Prompts:  resolver,
		Recorder: s.Recorder,
		Embedder: embedder,
		Config:   cfg.AnnotateConfig(),
		Logger:   s.Logger,
	}); err != nil {
		return err
	}
	s.Repairer, err = repair.New(repair.RepairerConfig{
		Client:   client,
		Limiter:  limiter,
		Prompts:  resolver,
		Recorder: s.Recorder,
		Config:   cfg.RepairConfig(),
		Logger:   s.Logger,
	})
	return err
}

// ttsEngines wraps the configured TTS providers in preference order.
// Engines that are not registered are skipped.
func ttsEngines(r *providers.Registry, cfg *config.Config, logger *slog.Logger) []audio.Engine {
	var engines []audio.Engine
	for _, name := range cfg.TTS.Engines {
		p, err := r.GetTTS(name)
		if err != nil {
			logger.Debug("TTS engine unavailable", "engine", name, "error", err)
			continue
		}
		e, err := audio.NewProviderEngine(audio.ProviderEngineConfig{
			ID:         name,
			Provider:   p,
			Voices:     cfg.TTS.Voices,
			Voice:      voiceOf(cfg, name),
			MaxRetries: cfg.TTS.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("failed to create TTS engine", "engine", name, "error", err)
			continue
		}
		engines = append(engines, e)
	}
	return engines
}

func voiceOf(cfg *config.Config, engine string) string {
	if p, ok := cfg.GetProvider(engine); ok {
		return p.Voice
	}
	return ""
}

// openBlob connects the configured blob store.
func openBlob(ctx context.Context, s *svcctx.Services) (blob.Store, error) {
	bc := s.Config.Get().Storage.Blob
	dir := bc.Dir
	if dir == "" {
		dir = s.Home.BlobsDir()
	}
	return blob.New(ctx, blob.Config{
		Backend:   bc.Backend,
		Dir:       dir,
		Endpoint:  bc.Endpoint,
		AccessKey: config.ResolveEnvVars(bc.AccessKey),
		SecretKey: config.ResolveEnvVars(bc.SecretKey),
		Bucket:    bc.Bucket,
		UseSSL:    bc.UseSSL,
		Logger:    s.Logger,
	})
}

func openProject(ctx context.Context, id string) (*project.Project, error) {
	s := svcctx.ServicesFrom(ctx)
	return project.Open(s.Home.ProjectDir(id), s.Project())
}

// runJob runs fn as a background job under key and echoes its progress to
// stderr until it finishes.
func runJob(ctx context.Context, key, name string, fn func(ctx context.Context) error) error {
	m := svcctx.JobManagerFrom(ctx)
	id, err := m.Submit(ctx, key, jobs.Func{Name: name, Fn: fn})
	if err != nil {
		return err
	}
	msgs, err := m.Subscribe(id)
	if err != nil {
		return err
	}
	for msg := range msgs {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", name, msg.Text)
	}
	rec, err := m.Wait(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != jobs.StatusCompleted {
		if rec.ErrorKind != "" {
			return fmt.Errorf("%s %s (%s): %s", name, rec.Status, rec.ErrorKind, rec.Error)
		}
		return fmt.Errorf("%s %s: %s", name, rec.Status, rec.Error)
	}
	return nil
}

// Package svcctx carries the process-wide services through a context so
// commands extract what they need without threading every dependency.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/config"
	"github.com/jackzampolin/clara/internal/home"
	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/jobs"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/phonetic"
	"github.com/jackzampolin/clara/internal/project"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/repair"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Home         *home.Dir
	Config       *config.Manager
	Registry     *providers.Registry
	JobManager   *jobs.Manager
	Recorder     *llmcall.Recorder
	LLMCallStore *llmcall.Store
	Engine       *annotate.Engine
	Repairer     *repair.Repairer
	Images       *images.Repository
	AudioRepo    *audio.Repository
	Audio        *audio.Annotator
	Lexicon      *phonetic.Lexicon
	Renderer     *render.Renderer
	Logger       *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// Project returns the collaborators a project needs.
func (s *Services) Project() project.Services {
	return project.Services{
		Engine:   s.Engine,
		Repairer: s.Repairer,
		Images:   s.Images,
		Audio:    s.Audio,
		Lexicon:  s.Lexicon,
		Renderer: s.Renderer,
		Calls:    s.LLMCallStore,
		Logger:   s.Logger,
	}
}

// MediaSources returns where served media URLs resolve to.
func (s *Services) MediaSources() render.MediaSources {
	return render.MediaSources{AudioDir: s.Home.AudioDir(), ImageDir: s.Home.ImagesDir()}
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

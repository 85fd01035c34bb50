package project

import (
	"context"
	"os"
	"time"

	"github.com/jackzampolin/clara/internal/deps"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/markup"
)

// Timestamp implements deps.TimestampSource. Text phases are dated by
// their layer files, the rest by their records.
func (p *Project) Timestamp(ctx context.Context, phase string) (time.Time, bool, error) {
	for _, tp := range deps.TextPhases {
		if tp == phase {
			ts, ok := p.LayerModified(phase)
			return ts, ok, nil
		}
	}
	switch phase {
	case deps.Images:
		if p.svc.Images == nil {
			return time.Time{}, false, nil
		}
		ts, err := p.svc.Images.LatestUpdate(ctx, p.id)
		if err != nil {
			return time.Time{}, false, err
		}
		return ts, !ts.IsZero(), nil
	case deps.Audio:
		return p.audioTimestamp(false)
	case deps.AudioPhonetic:
		return p.audioTimestamp(true)
	case deps.FormatPreferences:
		return recordTime[any](p, recordFormat)
	case deps.Acknowledgements:
		return recordTime[any](p, recordAcknowledgements)
	case deps.Render:
		return recordTime[any](p, recordRender)
	case deps.RenderPhonetic:
		return recordTime[any](p, recordRenderPhonetic)
	}
	return time.Time{}, false, nil
}

func recordTime[T any](p *Project, name string) (time.Time, bool, error) {
	_, ts, ok, err := loadRecord[T](p, name)
	return ts, ok, err
}

// audioTimestamp is the latest of the binding, the audio settings and the
// bound recordings. Audio is absent until it has been bound once.
func (p *Project) audioTimestamp(phonetic bool) (time.Time, bool, error) {
	b, ts, ok, err := loadRecord[audioBinding](p, bindingRecord(phonetic))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	settings, ok, err := recordTime[any](p, recordAudioSettings)
	if err != nil {
		return time.Time{}, false, err
	}
	if ok && settings.After(ts) {
		ts = settings
	}
	for _, f := range b.Files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().After(ts) {
			ts = info.ModTime()
		}
	}
	return ts, true, nil
}

// Status reports every phase of the default pipeline.
func (p *Project) Status(ctx context.Context) ([]deps.Status, error) {
	return deps.NewTracker(deps.DefaultGraph()).Status(ctx, p)
}

// Stale lists the phases that are present but out of date.
func (p *Project) Stale(ctx context.Context) ([]string, error) {
	return deps.NewTracker(deps.DefaultGraph()).Stale(ctx, p)
}

// WordCount returns the number of words in the segmented layer, or zero
// if it does not exist.
func (p *Project) WordCount() (int, error) {
	if !p.HasLayer(markup.LayerSegmented) {
		return 0, nil
	}
	t, err := p.Text(markup.LayerSegmented)
	if err != nil {
		return 0, err
	}
	return t.WordCount(), nil
}

// CostSummary is the LLM spend of a project.
type CostSummary struct {
	Total   float64            `json:"total"`
	ByPhase map[string]float64 `json:"by_phase"`
	Calls   int                `json:"calls"`
}

// Cost sums the recorded LLM calls of the project.
func (p *Project) Cost() (*CostSummary, error) {
	if p.svc.Calls == nil {
		return &CostSummary{ByPhase: map[string]float64{}}, nil
	}
	calls, err := p.svc.Calls.List(llmcall.QueryFilter{ProjectID: p.id})
	if err != nil {
		return nil, err
	}
	return &CostSummary{
		Total:   llmcall.TotalCost(calls),
		ByPhase: llmcall.CostByPhase(calls),
		Calls:   len(calls),
	}, nil
}

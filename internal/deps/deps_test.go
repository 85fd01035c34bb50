package deps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphRegister(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Register(Phase{Name: "a"}))
	err := g.Register(Phase{Name: "a"})
	assert.ErrorIs(t, err, ErrPhaseAlreadyRegistered)

	p, ok := g.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", p.Name)
	assert.Equal(t, []string{"a"}, g.Names())
}

func TestGraphOrdered(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Register(Phase{Name: "c", Dependencies: []string{"b"}}))
	require.NoError(t, g.Register(Phase{Name: "b", Dependencies: []string{"a"}}))
	require.NoError(t, g.Register(Phase{Name: "a"}))
	require.NoError(t, g.Register(Phase{Name: "d", Dependencies: []string{"a"}}))

	ordered, err := g.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "c"}, ordered)
	assert.Equal(t, []string{"b", "d"}, g.DependentsOf("a"))
	assert.Equal(t, []string{"b"}, g.DependenciesOf("c"))
}

func TestGraphErrors(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Register(Phase{Name: "a", Dependencies: []string{"missing"}}))
	assert.ErrorIs(t, g.Validate(), ErrPhaseNotFound)

	g = NewGraph()
	require.NoError(t, g.Register(Phase{Name: "a", Dependencies: []string{"b"}}))
	require.NoError(t, g.Register(Phase{Name: "b", Dependencies: []string{"a"}}))
	assert.ErrorIs(t, g.Validate(), ErrDependencyCycle)

	_, err := NewGraph().Closure("x")
	assert.True(t, errors.Is(err, ErrPhaseNotFound))
}

func TestDefaultGraph(t *testing.T) {
	g := DefaultGraph()
	require.NoError(t, g.Validate())

	closure, err := g.Closure(LemmaAndGloss)
	require.NoError(t, err)
	for _, want := range []string{Plain, Segmented, Title, SegmentedTitle, MWE, Images, Lemma, Gloss} {
		assert.Contains(t, closure, want)
	}
	assert.NotContains(t, closure, Pinyin)

	closure, err = g.Closure(SocialNetwork)
	require.NoError(t, err)
	assert.Contains(t, closure, AudioPhonetic)
	assert.Contains(t, closure, Acknowledgements)

	ordered, err := g.Ordered()
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, n := range ordered {
		pos[n] = i
	}
	for _, p := range DefaultPhases {
		for _, dep := range p.Dependencies {
			assert.Less(t, pos[dep], pos[p.Name], "%s must follow %s", p.Name, dep)
		}
	}
}

func TestTrackerStaleness(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	stamps := Timestamps{
		Plain:     t0,
		Segmented: t0.Add(time.Hour),
		Gloss:     t0.Add(2 * time.Hour),
	}
	tr := NewTracker(nil)
	ctx := context.Background()

	for _, phase := range []string{Plain, Segmented, Gloss} {
		ok, err := tr.UpToDate(ctx, stamps, phase)
		require.NoError(t, err)
		assert.True(t, ok, phase)
	}

	// Resave plain after everything else.
	stamps[Plain] = t0.Add(3 * time.Hour)

	st, err := tr.PhaseStatus(ctx, stamps, Segmented)
	require.NoError(t, err)
	assert.False(t, st.UpToDate)
	assert.Equal(t, []string{Plain}, st.NewerDependencies)

	st, err = tr.PhaseStatus(ctx, stamps, Gloss)
	require.NoError(t, err)
	assert.False(t, st.UpToDate)
	assert.Contains(t, st.NewerDependencies, Plain)

	ok, err := tr.UpToDate(ctx, stamps, Plain)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.UpToDate(ctx, stamps, CEFRLevel)
	require.NoError(t, err)
	assert.False(t, ok, "absent required phase is out of date")

	for _, optional := range []string{Acknowledgements, Audio, AudioPhonetic, FormatPreferences} {
		ok, err = tr.UpToDate(ctx, stamps, optional)
		require.NoError(t, err)
		assert.True(t, ok, "absent optional phase %s is up to date", optional)
	}
}

func TestGlossFollowsTranslation(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	stamps := Timestamps{
		Plain:     t0,
		Segmented: t0.Add(time.Hour),
		Gloss:     t0.Add(2 * time.Hour),
	}
	tr := NewTracker(nil)
	ctx := context.Background()

	ok, err := tr.UpToDate(ctx, stamps, Gloss)
	require.NoError(t, err)
	assert.True(t, ok, "an absent translation does not make gloss stale")

	stamps[Translated] = t0.Add(3 * time.Hour)
	st, err := tr.PhaseStatus(ctx, stamps, Gloss)
	require.NoError(t, err)
	assert.False(t, st.UpToDate)
	assert.Equal(t, []string{Translated}, st.NewerDependencies)
	assert.Contains(t, DefaultGraph().DependentsOf(Translated), Gloss)
}

func TestTrackerTimezones(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	// 10:30 CET is 09:30 UTC, earlier than the plain text.
	stamps := Timestamps{
		Plain:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Segmented: time.Date(2024, 1, 1, 10, 30, 0, 0, paris),
	}
	ok, err := NewTracker(nil).UpToDate(context.Background(), stamps, Segmented)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackerMonotonicity(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stamps := Timestamps{}
	for i, p := range []string{Images, Plain, Segmented, Title, SegmentedTitle, MWE, Lemma, Gloss, LemmaAndGloss, Translated} {
		stamps[p] = t0.Add(time.Duration(i) * time.Minute)
	}
	stamps[MWE] = t0.Add(time.Hour)

	tr := NewTracker(nil)
	all, err := tr.Status(context.Background(), stamps)
	require.NoError(t, err)
	for _, st := range all {
		if !st.UpToDate || !st.Present {
			continue
		}
		closure, err := tr.Graph().Closure(st.Phase)
		require.NoError(t, err)
		for _, dep := range closure {
			if dts, ok := stamps[dep]; ok {
				assert.False(t, dts.After(st.Timestamp), "%s is up to date but %s is newer", st.Phase, dep)
			}
		}
	}

	stale, err := tr.Stale(context.Background(), stamps)
	require.NoError(t, err)
	assert.Contains(t, stale, Lemma)
	assert.Contains(t, stale, Gloss)
	assert.Contains(t, stale, LemmaAndGloss)
	assert.NotContains(t, stale, Translated)
	assert.NotContains(t, stale, MWE)
}

type failingSource struct{}

func (failingSource) Timestamp(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("disk gone")
}

func TestTrackerSourceError(t *testing.T) {
	_, err := NewTracker(nil).Status(context.Background(), failingSource{})
	assert.Error(t, err)
}

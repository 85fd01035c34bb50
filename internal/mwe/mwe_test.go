package mwe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/text"
)

func boxingDay() *text.Segment {
	seg := &text.Segment{Elements: text.Tokenize("She must have thrown it out on Boxing Day morning.")}
	seg.Annotations.MWEs = [][]string{{"thrown", "out"}, {"Boxing", "Day"}}
	return seg
}

func wordAt(seg *text.Segment, surface string) *text.Element {
	for _, e := range seg.Elements {
		if e.Type == text.Word && e.Content == surface {
			return e
		}
	}
	return nil
}

func TestFindPositions(t *testing.T) {
	seg := boxingDay()

	got, err := FindPositions(seg, []string{"thrown", "out"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "thrown", seg.Elements[got[0]].Content)
	assert.Equal(t, "out", seg.Elements[got[1]].Content)
	assert.Less(t, got[0], got[1])

	_, err = FindPositions(seg, []string{"out", "thrown"})
	var me *clerr.MWEError
	require.True(t, errors.As(err, &me), "expected MWEError, got %v", err)

	_, err = FindPositions(seg, []string{"Christmas"})
	require.Error(t, err)
}

func TestFindPositionsMinimalSpan(t *testing.T) {
	seg := &text.Segment{Elements: text.Tokenize("look at it and look up the word")}
	got, err := FindPositions(seg, []string{"look", "up"})
	require.NoError(t, err)
	// The second "look" is closer to "up".
	assert.Equal(t, 8, got[0])
	assert.Equal(t, 10, got[1])
}

func TestCheckWellFormed(t *testing.T) {
	seg := boxingDay()
	require.NoError(t, CheckWellFormed(seg))

	seg.Annotations.MWEs = append(seg.Annotations.MWEs, []string{"Day", "Boxing"})
	var me *clerr.MWEError
	require.True(t, errors.As(CheckWellFormed(seg), &me))
}

func TestCheckConsistency(t *testing.T) {
	seg := boxingDay()
	wordAt(seg, "thrown").Annotations.Set(text.KeyLemma, "throw out")
	wordAt(seg, "out").Annotations.Set(text.KeyLemma, "throw out")
	wordAt(seg, "Boxing").Annotations.Set(text.KeyLemma, "Boxing Day")
	wordAt(seg, "Day").Annotations.Set(text.KeyLemma, "Boxing Day")
	require.NoError(t, CheckConsistency(seg, text.KeyLemma))

	wordAt(seg, "Day").Annotations.Set(text.KeyLemma, "day")
	err := CheckConsistency(seg, text.KeyLemma)
	require.Error(t, err)
	assert.Equal(t, clerr.KindMWE, clerr.KindOf(err))

	wordAt(seg, "Day").Annotations.Set(text.KeyLemma, "Boxing Day")
	wordAt(seg, "thrown").Annotations.Set(text.KeyLemma, text.NoData)
	wordAt(seg, "out").Annotations.Set(text.KeyLemma, text.NoData)
	require.Error(t, CheckConsistency(seg, text.KeyLemma))
}

func TestEnforcer(t *testing.T) {
	newText := func() *text.Text {
		seg := boxingDay()
		wordAt(seg, "thrown").Annotations.Set(text.KeyGloss, "jeté")
		wordAt(seg, "out").Annotations.Set(text.KeyGloss, "dehors")
		wordAt(seg, "Boxing").Annotations.Set(text.KeyGloss, "lendemain de Noël")
		wordAt(seg, "Day").Annotations.Set(text.KeyGloss, "lendemain de Noël")
		return &text.Text{Pages: []*text.Page{{Segments: []*text.Segment{seg}}}}
	}

	strict := &Enforcer{Strict: true}
	require.Error(t, strict.Enforce(newText(), text.KeyGloss))

	txt := newText()
	lenient := &Enforcer{}
	require.NoError(t, lenient.Enforce(txt, text.KeyGloss))
	seg := txt.Pages[0].Segments[0]
	assert.Equal(t, text.NoData, wordAt(seg, "thrown").Annotations.Value(text.KeyGloss))
	assert.Equal(t, text.NoData, wordAt(seg, "out").Annotations.Value(text.KeyGloss))
	assert.Equal(t, "lendemain de Noël", wordAt(seg, "Day").Annotations.Value(text.KeyGloss))
}

func TestUnifyAndPropagate(t *testing.T) {
	seg := boxingDay()
	wordAt(seg, "thrown").Annotations.Set(text.KeyLemma, "throw out")
	wordAt(seg, "thrown").Annotations.Set(text.KeyPOS, "VERB")
	wordAt(seg, "Boxing").Annotations.Set(text.KeyLemma, "Boxing Day")
	wordAt(seg, "Boxing").Annotations.Set(text.KeyPOS, "PROPN")
	require.NoError(t, Unify(seg, text.KeyLemma, text.KeyPOS))
	require.NoError(t, CheckConsistency(seg, text.KeyLemma))
	assert.Equal(t, "PROPN", wordAt(seg, "Day").Annotations.Value(text.KeyPOS))

	txt := &text.Text{Pages: []*text.Page{{Segments: []*text.Segment{seg}}}}
	assert.Empty(t, Propagate(txt))
	out := wordAt(seg, "out")
	assert.Equal(t, "mwe_1", out.Annotations.Value(text.KeyMWEID))
	assert.Equal(t, "thrown out", out.Annotations.Value(text.KeyMWEText))
	assert.Equal(t, "2", out.Annotations.Value(text.KeyMWELength))
	assert.Equal(t, "mwe_2", wordAt(seg, "Day").Annotations.Value(text.KeyMWEID))
	assert.Empty(t, wordAt(seg, "She").Annotations.Value(text.KeyMWEID))
	assert.Len(t, Words(seg), 4)
}

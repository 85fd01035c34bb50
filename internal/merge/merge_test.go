package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/text"
)

func internalise(t *testing.T, s, layer string) *text.Text {
	t.Helper()
	txt, err := markup.Internalise(s, layer, "french", "english")
	require.NoError(t, err)
	return txt
}

func word(seg *text.Segment, surface string) *text.Element {
	for _, e := range seg.Elements {
		if e.Type == text.Word && e.Content == surface {
			return e
		}
	}
	return nil
}

func TestExact(t *testing.T) {
	target := internalise(t, "Le| chien| dort.||", markup.LayerSegmented)
	source := internalise(t, "Le#the# chien#dog# dort#sleeps#.||", markup.LayerGloss)

	require.NoError(t, Exact(target, source, markup.LayerGloss, Options{}))
	seg := target.Pages[0].Segments[0]
	assert.Equal(t, "dog", word(seg, "chien").Annotations.Value(text.KeyGloss))
	assert.Equal(t, "sleeps", word(seg, "dort").Annotations.Value(text.KeyGloss))

	other := internalise(t, "Le#the#||<page>chien#dog#||", markup.LayerGloss)
	err := Exact(target, other, markup.LayerGloss, Options{})
	require.Error(t, err)
	assert.Equal(t, clerr.KindInternal, clerr.KindOf(err))
}

func TestDiffMissingWord(t *testing.T) {
	target := internalise(t, "Le| chien| dort.||", markup.LayerSegmented)
	source := internalise(t, "Le#the# dort#sleeps#.||", markup.LayerGloss)

	Diff(target, source, markup.LayerGloss, Options{})
	seg := target.Pages[0].Segments[0]
	assert.Equal(t, "the", word(seg, "Le").Annotations.Value(text.KeyGloss))
	assert.Equal(t, text.NoData, word(seg, "chien").Annotations.Value(text.KeyGloss))
	assert.Equal(t, "sleeps", word(seg, "dort").Annotations.Value(text.KeyGloss))
	assert.Equal(t, "Le chien dort.", target.Plain())
}

func TestDiffReplacedWord(t *testing.T) {
	target := internalise(t, "Les| chiens| dorment.||", markup.LayerSegmented)
	source := internalise(t, "Les#les/DET# chien#chien/NOUN# dorment#dormir/VERB#.||", markup.LayerLemma)

	Diff(target, source, markup.LayerLemma, Options{})
	seg := target.Pages[0].Segments[0]
	chiens := word(seg, "chiens")
	assert.Equal(t, "chien", chiens.Annotations.Value(text.KeyLemma))
	assert.Equal(t, "NOUN", chiens.Annotations.Value(text.KeyPOS))
	assert.Equal(t, "dormir", word(seg, "dorment").Annotations.Value(text.KeyLemma))
}

func TestSegmentLevelMerge(t *testing.T) {
	target := internalise(t, "Le| chien| dort.||Il| rêve.||", markup.LayerSegmented)
	translated := internalise(t, "Le| chien| dort.#The dog sleeps.#||Il| rêve.#He dreams.#||", markup.LayerTranslated)
	mwes := internalise(t, "Le| chien| dort.\n\n_analysis: none\n_MWEs: ||Il| rêve.\n\n_MWEs: ||", markup.LayerMWE)

	out := Unify(target, []Layer{
		{Name: markup.LayerTranslated, Text: translated},
		{Name: markup.LayerMWE, Text: mwes},
	}, Options{})

	segs := out.Segments()
	require.Len(t, segs, 2)
	require.NotNil(t, segs[0].Annotations.Translated)
	assert.Equal(t, "The dog sleeps.", *segs[0].Annotations.Translated)
	assert.Equal(t, "He dreams.", *segs[1].Annotations.Translated)
	require.NotNil(t, segs[0].Annotations.Analysis)
	assert.Equal(t, "none", *segs[0].Annotations.Analysis)
	assert.Nil(t, target.Pages[0].Segments[0].Annotations.Translated, "target must not be modified")
}

func TestUnifyPreservesAnnotations(t *testing.T) {
	target := internalise(t, "Le#le/DET# chien#chien/NOUN#||", markup.LayerLemma)
	gloss := internalise(t, "Le#the# chien#dog#||", markup.LayerGloss)
	otherLemma := internalise(t, "Le#la/DET# chien#chienne/NOUN#||", markup.LayerLemma)

	out := Unify(target, []Layer{
		{Name: markup.LayerGloss, Text: gloss},
		{Name: markup.LayerLemma, Text: otherLemma},
	}, Options{})
	seg := out.Pages[0].Segments[0]
	assert.Equal(t, "chien", word(seg, "chien").Annotations.Value(text.KeyLemma))
	assert.Equal(t, "dog", word(seg, "chien").Annotations.Value(text.KeyGloss))

	over := Unify(target, []Layer{{Name: markup.LayerLemma, Text: otherLemma}}, Options{Overwrite: true})
	assert.Equal(t, "chienne", word(over.Pages[0].Segments[0], "chien").Annotations.Value(text.KeyLemma))
}

func TestLemmaAndGloss(t *testing.T) {
	lemma := internalise(t, "Le#le/DET# chien#chien/NOUN#||", markup.LayerLemma)
	gloss := internalise(t, "Le#the# chien#dog#||", markup.LayerGloss)

	out := LemmaAndGloss(lemma, gloss)
	s, err := markup.Externalise(out, markup.LayerLemmaAndGloss)
	require.NoError(t, err)
	assert.Equal(t, "Le#le/DET/the# chien#chien/NOUN/dog#||", s)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("chien", "chien"))
	assert.Greater(t, Similarity("chiens", "chien"), Similarity("chiens", "dort"))
}

func TestCharwise(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		annotated string
		phase     string
		want      string
	}{
		{
			name:      "segmentation inserts only",
			original:  "Hello, world! How are you?",
			annotated: "Hello,| world!|| How| are| you?||",
			phase:     Segmentation,
			want:      "Hello,| world!|| How| are| you?||",
		},
		{
			name:      "model changed a word",
			original:  "The cat sat.",
			annotated: "The| dog| sat.||",
			phase:     Segmentation,
			want:      "The| cat| sat.||",
		},
		{
			name:      "multi-word delimiters",
			original:  "We saw New York.",
			annotated: "We| saw| @New York@.",
			phase:     Segmentation,
			want:      "We| saw| @New York@.",
		},
		{
			name:      "presegmentation",
			original:  "One. Two.\nThree.",
			annotated: "<page>One.|| Two.||\n<page>Three.||",
			phase:     PreSegmentation,
			want:      "<page>One.|| Two.||\n<page>Three.||",
		},
		{
			name:      "reserved characters are escaped",
			original:  "x<y or #1",
			annotated: "x<y| or| #1",
			phase:     Segmentation,
			want:      `x\<y| or| \#1`,
		},
		{
			name:      "separators in the original stay text",
			original:  "either|or",
			annotated: "either|or||",
			phase:     Segmentation,
			want:      `either\|or||`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Charwise(tt.original, tt.annotated, tt.phase)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.original, StripMarkup(got, tt.phase))
		})
	}

	_, err := Charwise("a", "b", "gloss")
	require.Error(t, err)
}

package deps

// Phase names. Text phases match the layer names of their files.
const (
	Plain             = "plain"
	Title             = "title"
	SegmentedTitle    = "segmented_title"
	Summary           = "summary"
	CEFRLevel         = "cefr_level"
	Segmented         = "segmented"
	Images            = "images"
	Translated        = "translated"
	MWE               = "mwe"
	Phonetic          = "phonetic"
	Gloss             = "gloss"
	Lemma             = "lemma"
	Pinyin            = "pinyin"
	LemmaAndGloss     = "lemma_and_gloss"
	Audio             = "audio"
	AudioPhonetic     = "audio_phonetic"
	FormatPreferences = "format_preferences"
	Acknowledgements  = "acknowledgements"
	Render            = "render"
	RenderPhonetic    = "render_phonetic"
	SocialNetwork     = "social_network"
	Questionnaire     = "questionnaire"
)

// TextPhases are the phases stored as layer files.
var TextPhases = []string{
	Plain, Title, SegmentedTitle, Summary, CEFRLevel, Segmented, Translated,
	MWE, Phonetic, Gloss, Lemma, Pinyin, LemmaAndGloss,
}

// DefaultPhases is the annotation pipeline. A predecessor that was never
// produced does not make its dependents stale, so auxiliary inputs such as
// the mwe and translated layers of gloss are listed like required ones.
var DefaultPhases = []Phase{
	{Name: Plain},
	{Name: Title, Dependencies: []string{Plain}},
	{Name: SegmentedTitle, Dependencies: []string{Title}},
	{Name: Summary, Dependencies: []string{Plain}},
	{Name: CEFRLevel, Dependencies: []string{Plain}},
	{Name: Segmented, Dependencies: []string{Plain}},
	{Name: Images},
	{Name: Translated, Dependencies: []string{Segmented, SegmentedTitle}},
	{Name: MWE, Dependencies: []string{Segmented, SegmentedTitle}},
	{Name: Phonetic, Dependencies: []string{Segmented}},
	{Name: Gloss, Dependencies: []string{Segmented, Images, MWE, Translated}},
	{Name: Lemma, Dependencies: []string{Segmented, Images, MWE}},
	{Name: Pinyin, Dependencies: []string{Segmented, Images}},
	{Name: LemmaAndGloss, Dependencies: []string{Lemma, Gloss}},
	{Name: Audio, Dependencies: []string{Segmented}, Optional: true},
	{Name: AudioPhonetic, Dependencies: []string{Phonetic}, Optional: true},
	{Name: FormatPreferences, Optional: true},
	{Name: Acknowledgements, Optional: true},
	{Name: Render, Dependencies: []string{Title, Gloss, Lemma, Pinyin, Images, Audio, FormatPreferences, Acknowledgements}},
	{Name: RenderPhonetic, Dependencies: []string{Phonetic, Images, AudioPhonetic, FormatPreferences, Acknowledgements}},
	{Name: SocialNetwork, Dependencies: []string{Render, RenderPhonetic, Summary, CEFRLevel}},
	{Name: Questionnaire, Dependencies: []string{Render, RenderPhonetic}},
}

// DefaultGraph returns a graph of DefaultPhases.
func DefaultGraph() *Graph {
	g := NewGraph()
	for _, p := range DefaultPhases {
		if err := g.Register(p); err != nil {
			panic(err)
		}
	}
	return g
}

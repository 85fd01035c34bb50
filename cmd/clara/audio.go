package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/svcctx"
)

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Bind and manage audio",
}

var audioPhonetic bool

var audioBindCmd = &cobra.Command{
	Use:   "bind <project>",
	Short: "Attach audio to every word, segment and page",
	Long: `Look up or generate audio for the built text of a project using its
audio settings. Items with no recording get the placeholder.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		p, err := openProject(ctx, args[0])
		if err != nil {
			return err
		}
		var res *audio.Result
		err = runJob(ctx, args[0], "audio", func(ctx context.Context) error {
			t, err := p.BuildText(ctx, audioPhonetic)
			if err != nil {
				return err
			}
			res, err = p.AnnotateAudio(ctx, t, audioPhonetic)
			return err
		})
		if err != nil {
			return err
		}
		return Output(res)
	},
}

var (
	settingsWords       string
	settingsSegments    string
	settingsEngines     []string
	settingsTTSVoice    string
	settingsHumanVoice  string
	settingsUseContext  bool
	settingsContext     int
	settingsNoPageAudio bool
)

var audioSettingsCmd = &cobra.Command{
	Use:   "settings <project>",
	Short: "Show or change the audio settings of a project",
	Long: `Show the audio settings of a project. Any flag given replaces the
corresponding setting.

Examples:
  clara audio settings tintin
  clara audio settings tintin --segments human --human-voice mannyrayner`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		p, err := openProject(ctx, args[0])
		if err != nil {
			return err
		}
		opts, err := p.AudioSettings()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if opts.ContextLength == 0 {
			opts.ContextLength = svcctx.ConfigFrom(ctx).Get().Audio.ContextLength
		}
		changed := false
		set := func(name string, apply func()) {
			if flags.Changed(name) {
				apply()
				changed = true
			}
		}
		set("words", func() { opts.WordsType = settingsWords })
		set("segments", func() { opts.SegmentsType = settingsSegments })
		set("engine", func() { opts.EnginePreference = settingsEngines })
		set("tts-voice", func() { opts.TTSVoice = settingsTTSVoice })
		set("human-voice", func() { opts.HumanVoiceID = settingsHumanVoice })
		set("use-context", func() { opts.UseContext = settingsUseContext })
		set("context-length", func() { opts.ContextLength = settingsContext })
		set("no-page-audio", func() { opts.NoPageAudio = settingsNoPageAudio })
		if changed {
			if err := p.SetAudioSettings(opts); err != nil {
				return err
			}
		}
		return Output(opts)
	},
}

var humanMissing bool

var audioHumanCmd = &cobra.Command{
	Use:   "human <project>",
	Short: "List the items a human voice has to record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		p, err := openProject(ctx, args[0])
		if err != nil {
			return err
		}
		items, err := p.HumanAudioMetadata(ctx, humanMissing)
		if err != nil {
			return err
		}
		return Output(items)
	},
}

var (
	ingestVoice    string
	ingestLanguage string
	ingestLabels   string
	ingestProject  string
)

var audioIngestCmd = &cobra.Command{
	Use:   "ingest <recordings>",
	Short: "Store human recordings",
	Long: `Store human recordings for a voice. The recordings are either a zip
holding audio files and a metadata.json list, or one MP3 cut into segments
by an Audacity label file given with --labels.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		s := svcctx.ServicesFrom(ctx)
		v := audio.Voice{
			EngineID:   audio.HumanEngineID,
			LanguageID: audio.LanguageID(ingestLanguage),
			VoiceID:    ingestVoice,
		}
		proc := audio.FFmpeg{Binary: s.Config.Get().Audio.FFmpegBinary}

		var n int
		if ingestLabels == "" {
			n, err = audio.IngestZip(ctx, s.AudioRepo, proc, v, args[0])
		} else {
			n, err = ingestLabelled(ctx, s, proc, v, args[0])
		}
		if err != nil {
			return err
		}
		return Output(map[string]any{"voice": v.String(), "stored": n})
	},
}

var audioVoicesCmd = &cobra.Command{
	Use:   "voices <engine>",
	Short: "List the voices of a TTS engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		p, err := svcctx.ServicesFrom(ctx).Registry.GetTTS(args[0])
		if err != nil {
			return err
		}
		lister, ok := p.(providers.VoiceLister)
		if !ok {
			return fmt.Errorf("TTS engine %s cannot list voices", args[0])
		}
		voices, err := lister.ListVoices(ctx)
		if err != nil {
			return err
		}
		return Output(voices)
	},
}

// ingestLabelled cuts an MP3 at the labels of ingestLabels. Each label
// text is a segment number of the labelled segmented view.
func ingestLabelled(ctx context.Context, s *svcctx.Services, proc audio.Processor, v audio.Voice, mp3 string) (int, error) {
	if ingestProject == "" {
		return 0, fmt.Errorf("--project is required with --labels")
	}
	p, err := openProject(ctx, ingestProject)
	if err != nil {
		return 0, err
	}
	t, err := p.SegmentedWithImages(ctx)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(ingestLabels)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	labels, err := audio.ParseAudacityLabels(f)
	if err != nil {
		return 0, err
	}
	bps, err := audio.BreakpointsFromLabels(labels, audio.LabelledSegmentedView(t))
	if err != nil {
		return 0, err
	}
	return audio.IngestMP3WithBreakpoints(ctx, s.AudioRepo, proc, v, mp3, bps)
}

func init() {
	audioBindCmd.Flags().BoolVar(&audioPhonetic, "phonetic", false, "bind audio to the phonetic text")

	f := audioSettingsCmd.Flags()
	f.StringVar(&settingsWords, "words", "", "word audio source: tts or human")
	f.StringVar(&settingsSegments, "segments", "", "segment audio source: tts or human")
	f.StringSliceVar(&settingsEngines, "engine", nil, "TTS engines in order of preference")
	f.StringVar(&settingsTTSVoice, "tts-voice", "", "TTS voice overriding the engine default")
	f.StringVar(&settingsHumanVoice, "human-voice", "", "voice id of human recordings")
	f.BoolVar(&settingsUseContext, "use-context", false, "key segment recordings by preceding text")
	f.IntVar(&settingsContext, "context-length", 0, "characters of preceding text used as context")
	f.BoolVar(&settingsNoPageAudio, "no-page-audio", false, "do not build page audio")

	audioHumanCmd.Flags().BoolVar(&humanMissing, "missing", false, "only list items not yet recorded")

	audioIngestCmd.Flags().StringVar(&ingestVoice, "voice", "", "voice id of the recordings")
	audioIngestCmd.Flags().StringVar(&ingestLanguage, "language", "", "language of the recordings")
	audioIngestCmd.Flags().StringVar(&ingestLabels, "labels", "", "Audacity label file cutting an MP3")
	audioIngestCmd.Flags().StringVar(&ingestProject, "project", "", "project whose segments the labels number")
	_ = audioIngestCmd.MarkFlagRequired("voice")
	_ = audioIngestCmd.MarkFlagRequired("language")

	audioCmd.AddCommand(audioBindCmd, audioSettingsCmd, audioHumanCmd, audioIngestCmd, audioVoicesCmd)
	rootCmd.AddCommand(audioCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/project"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/svcctx"
)

// resultView is the printed form of a project.Result.
type resultView struct {
	Project   string  `json:"project"`
	Layer     string  `json:"layer"`
	Source    string  `json:"source"`
	Calls     int     `json:"calls"`
	Cost      float64 `json:"cost"`
	Reused    int     `json:"reused,omitempty"`
	Annotated int     `json:"annotated,omitempty"`
	Repaired  int     `json:"repaired,omitempty"`
}

func outputResult(id string, r *project.Result) error {
	return Output(resultView{
		Project:   id,
		Layer:     r.Layer,
		Source:    r.Source,
		Calls:     len(r.Calls),
		Cost:      r.Cost(),
		Reused:    r.Reused,
		Annotated: r.Annotated,
		Repaired:  r.Repaired,
	})
}

// projectOp runs op on the project named by the first argument as a job and
// prints its result.
func projectOp(cmd *cobra.Command, id, name string, op func(ctx context.Context, p *project.Project) (*project.Result, error)) error {
	ctx, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	p, err := openProject(ctx, id)
	if err != nil {
		return err
	}
	var res *project.Result
	err = runJob(ctx, id, name, func(ctx context.Context) error {
		var err error
		res, err = op(ctx, p)
		return err
	})
	if err != nil {
		return err
	}
	return outputResult(id, res)
}

var (
	initL2    string
	initL1    string
	initPlain string
)

var initCmd = &cobra.Command{
	Use:   "init <project>",
	Short: "Create a project",
	Long: `Create a project for a text in the --l2 language annotated in the --l1
language. --plain loads an existing text as the plain layer.

Examples:
  clara init tintin --l2 french --l1 english
  clara init tintin --l2 french --l1 english --plain story.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		s := svcctx.ServicesFrom(ctx)

		p, err := project.Create(s.Home.ProjectDir(args[0]), project.StoredData{
			ID:         args[0],
			L2Language: initL2,
			L1Language: initL1,
		}, s.Project())
		if err != nil {
			return err
		}
		rc := s.Config.Get().Render
		prefs := render.DefaultFormatPreferences()
		prefs.FontType, prefs.FontSize, prefs.TextAlign = rc.FontType, rc.FontSize, rc.TextAlign
		if err := p.SetFormatPreferences(prefs); err != nil {
			return err
		}
		if initPlain != "" {
			data, err := os.ReadFile(initPlain)
			if err != nil {
				return err
			}
			if err := p.Edit(markup.LayerPlain, string(data), userName); err != nil {
				return err
			}
		}
		return Output(p.Stored())
	},
}

var generateDescription string

var generateCmd = &cobra.Command{
	Use:   "generate <project> <plain|title|summary|cefr_level>",
	Short: "Generate a free-text layer with the LLM",
	Long: `Generate a free-text layer. plain writes a new text from --description;
the other phases are derived from the plain text.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := args[1]
		return projectOp(cmd, args[0], "generate_"+phase, func(ctx context.Context, p *project.Project) (*project.Result, error) {
			if phase == markup.LayerPlain {
				if generateDescription == "" {
					return nil, fmt.Errorf("--description is required to generate plain text")
				}
				return p.GeneratePlain(ctx, generateDescription, userName)
			}
			return p.Generate(ctx, phase, userName)
		})
	},
}

var (
	segmentTrivial bool
	segmentTitle   bool
)

var segmentCmd = &cobra.Command{
	Use:   "segment <project>",
	Short: "Segment the plain text into pages, segments and words",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectOp(cmd, args[0], "segment", func(ctx context.Context, p *project.Project) (*project.Result, error) {
			switch {
			case segmentTitle:
				return p.SegmentTitle(ctx, userName)
			case segmentTrivial:
				return p.Trivial(ctx, markup.LayerSegmented, userName)
			default:
				return p.Segment(ctx, userName)
			}
		})
	},
}

var (
	annotateMWE     bool
	annotateTrivial bool
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <project> <phase>",
	Short: "Annotate the segmented text",
	Long: `Annotate the segmented text with one layer: translated, mwe, phonetic,
gloss, lemma or pinyin. --trivial produces placeholder lemma or gloss
layers without the LLM.

Examples:
  clara annotate tintin mwe
  clara annotate tintin gloss --mwe
  clara annotate tintin lemma --trivial`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := args[1]
		return projectOp(cmd, args[0], "annotate_"+phase, func(ctx context.Context, p *project.Project) (*project.Result, error) {
			if annotateTrivial {
				return p.Trivial(ctx, phase, userName)
			}
			return p.Annotate(ctx, project.AnnotateOptions{
				Phase:  phase,
				Mode:   prompts.ModeAnnotate,
				UseMWE: annotateMWE,
				User:   userName,
			})
		})
	},
}

var (
	improveMWE     bool
	improveCorrect bool
)

var improveCmd = &cobra.Command{
	Use:   "improve <project> <phase>",
	Short: "Improve an existing annotation layer",
	Long: `Send an existing layer back to the LLM for correction. --correct is
only valid for lemma_and_gloss and corrects lemma, POS and gloss together.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := args[1]
		mode := prompts.ModeImprove
		if improveCorrect {
			if phase != markup.LayerLemmaAndGloss {
				return fmt.Errorf("--correct only applies to %s", markup.LayerLemmaAndGloss)
			}
			mode = prompts.ModeCorrect
		}
		return projectOp(cmd, args[0], "improve_"+phase, func(ctx context.Context, p *project.Project) (*project.Result, error) {
			return p.Annotate(ctx, project.AnnotateOptions{
				Phase:  phase,
				Mode:   mode,
				UseMWE: improveMWE,
				User:   userName,
			})
		})
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair <project> <layer>",
	Short: "Repair markup syntax errors in a layer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer := args[1]
		return projectOp(cmd, args[0], "repair_"+layer, func(ctx context.Context, p *project.Project) (*project.Result, error) {
			return p.Repair(ctx, layer, userName)
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <project>",
	Short: "Merge the lemma and gloss layers into lemma_and_gloss",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectOp(cmd, args[0], "merge_lemma_and_gloss", func(ctx context.Context, p *project.Project) (*project.Result, error) {
			return p.MergeLemmaAndGloss(ctx, userName)
		})
	},
}

var layerCmd = &cobra.Command{
	Use:   "layer",
	Short: "Inspect and edit layer files",
}

// completeLayer completes the layer argument of the layer commands.
func completeLayer(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 1 {
		return markup.Layers(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveDefault
}

var layerShowCmd = &cobra.Command{
	Use:   "show <project> <layer>",
	Short: "Print the current version of a layer",
	Args:  cobra.ExactArgs(2),
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
		content, err := p.LoadLayer(args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), content)
		return err
	},
}

var layerSetCmd = &cobra.Command{
	Use:   "set <project> <layer> <file>",
	Short: "Replace a layer with a human-edited file",
	Long: `Replace a layer with the contents of a file. Annotated layers are
checked against their grammar before they are saved.`,
	Args: cobra.ExactArgs(3),
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
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		if err := p.Edit(args[1], string(data), userName); err != nil {
			return err
		}
		entry, _, err := p.Current(args[1])
		if err != nil {
			return err
		}
		return Output(entry)
	},
}

var layerVersionsCmd = &cobra.Command{
	Use:   "versions <project> <layer>",
	Short: "List the archived versions of a layer",
	Args:  cobra.ExactArgs(2),
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
		versions, err := p.Archived(args[1])
		if err != nil {
			return err
		}
		return Output(versions)
	},
}

var layerDiffCmd = &cobra.Command{
	Use:   "diff <project> <layer> <from> <to>",
	Short: "Diff two versions of a layer",
	Long: `Print a unified diff between two versions of a layer. A version is an
archived path as listed by "clara layer versions", or "current".`,
	Args: cobra.ExactArgs(4),
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
		version := func(v string) string {
			if v == "current" {
				return ""
			}
			return v
		}
		diff, err := p.DiffVersions(args[1], version(args[2]), version(args[3]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), diff)
		return err
	},
}

var (
	imagePage     int
	imagePosition string
	imageName     string
	imageText     string
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage project images",
}

var imageAddCmd = &cobra.Command{
	Use:   "add <project> <file>",
	Short: "Add an image to a page of a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		s := svcctx.ServicesFrom(ctx)
		if _, err := openProject(ctx, args[0]); err != nil {
			return err
		}
		stored, err := s.Images.StoreImage(args[0], args[1])
		if err != nil {
			return err
		}
		name := imageName
		if name == "" {
			name = filepath.Base(args[1])
		}
		img := &images.Image{
			ProjectID:      args[0],
			Name:           name,
			FilePath:       stored,
			AssociatedText: imageText,
			Page:           imagePage,
			Position:       imagePosition,
		}
		if err := s.Images.AddEntry(ctx, img); err != nil {
			return err
		}
		return Output(img)
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the images of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		imgs, err := svcctx.ServicesFrom(ctx).Images.GetAllEntries(ctx, args[0])
		if err != nil {
			return err
		}
		return Output(imgs)
	},
}

var imageRemoveCmd = &cobra.Command{
	Use:   "remove <project> <name>",
	Short: "Remove an image from a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := svcctx.ServicesFrom(ctx).Images.RemoveEntry(ctx, args[0], args[1]); err != nil {
			return err
		}
		return Output(map[string]string{"project": args[0], "removed": args[1]})
	},
}

var imageDescribeRemove bool

var imageDescribeCmd = &cobra.Command{
	Use:   "describe <project> <variable> [description]",
	Short: "Show, set or remove an image description variable",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		repo := svcctx.ServicesFrom(ctx).Images
		switch {
		case imageDescribeRemove:
			if err := repo.RemoveDescription(ctx, args[0], args[1]); err != nil {
				return err
			}
		case len(args) == 3:
			if err := repo.AddDescription(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
		}
		desc, err := repo.GetDescription(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return Output(map[string]string{"variable": args[1], "description": desc})
	},
}

func init() {
	initCmd.Flags().StringVar(&initL2, "l2", "", "language of the text")
	initCmd.Flags().StringVar(&initL1, "l1", "english", "language of glosses and translations")
	initCmd.Flags().StringVar(&initPlain, "plain", "", "file holding the plain text")
	_ = initCmd.MarkFlagRequired("l2")

	generateCmd.Flags().StringVar(&generateDescription, "description", "", "what the generated text should be about")

	segmentCmd.Flags().BoolVar(&segmentTrivial, "trivial", false, "segment on sentence punctuation without the LLM")
	segmentCmd.Flags().BoolVar(&segmentTitle, "title", false, "segment the title layer instead")

	annotateCmd.Flags().BoolVar(&annotateMWE, "mwe", false, "annotate multi-word expressions as units")
	annotateCmd.Flags().BoolVar(&annotateTrivial, "trivial", false, "produce a placeholder layer without the LLM")

	improveCmd.Flags().BoolVar(&improveMWE, "mwe", false, "annotate multi-word expressions as units")
	improveCmd.Flags().BoolVar(&improveCorrect, "correct", false, "correct lemma, POS and gloss together")

	imageAddCmd.Flags().IntVar(&imagePage, "page", 1, "page the image belongs to")
	imageAddCmd.Flags().StringVar(&imagePosition, "position", images.PositionBottom, "top or bottom of the page")
	imageAddCmd.Flags().StringVar(&imageName, "name", "", "image name (default: file name)")
	imageAddCmd.Flags().StringVar(&imageText, "text", "", "text associated with the image")
	imageDescribeCmd.Flags().BoolVar(&imageDescribeRemove, "remove", false, "remove the variable")

	for _, c := range []*cobra.Command{layerShowCmd, layerSetCmd, layerVersionsCmd, layerDiffCmd} {
		c.ValidArgsFunction = completeLayer
		layerCmd.AddCommand(c)
	}
	imageCmd.AddCommand(imageAddCmd, imageListCmd, imageRemoveCmd, imageDescribeCmd)
	rootCmd.AddCommand(initCmd, generateCmd, segmentCmd, annotateCmd, improveCmd, repairCmd, mergeCmd, layerCmd, imageCmd)
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/project"
	"github.com/jackzampolin/clara/internal/svcctx"
)

var (
	renderPhonetic      bool
	renderSelfContained bool
	renderNoAudio       bool
	renderURLPrefix     string
)

func renderOptions(ctx context.Context) project.RenderOptions {
	prefix := renderURLPrefix
	if prefix == "" {
		prefix = svcctx.ConfigFrom(ctx).Get().Render.URLPrefix
	}
	return project.RenderOptions{
		Phonetic:      renderPhonetic,
		SelfContained: renderSelfContained,
		URLPrefix:     prefix,
		NoAudio:       renderNoAudio,
	}
}

var renderCmd = &cobra.Command{
	Use:   "render <project>",
	Short: "Render a project as static HTML",
	Long: `Build the annotated text, bind audio, compute the concordance and write
the pages. --self-contained copies media into the output directory.

Examples:
  clara render tintin
  clara render tintin --phonetic --self-contained`,
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
		var dir string
		err = runJob(ctx, args[0], "render", func(ctx context.Context) error {
			var err error
			dir, err = p.Render(ctx, renderOptions(ctx))
			return err
		})
		if err != nil {
			return err
		}
		return Output(map[string]string{"project": args[0], "dir": dir})
	},
}

var exportPublish bool

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Package the last rendering into a content zip",
	Long: `Package the last rendering of a project with its audio and images into
a zip whose pages only reference files inside it. --publish uploads the zip
to the configured blob store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		s := svcctx.ServicesFrom(ctx)
		p, err := openProject(ctx, args[0])
		if err != nil {
			return err
		}
		zipPath := s.Home.ExportPath(args[0], renderPhonetic)
		out := map[string]string{"project": args[0], "zip": zipPath}
		err = runJob(ctx, args[0], "export", func(ctx context.Context) error {
			if err := p.Export(ctx, zipPath, renderPhonetic, s.MediaSources()); err != nil {
				return err
			}
			if !exportPublish {
				return nil
			}
			store, err := openBlob(ctx, s)
			if err != nil {
				return err
			}
			loc, err := store.Put(ctx, "exports/"+filepath.Base(zipPath), zipPath, "application/zip")
			if err != nil {
				return err
			}
			out["published"] = loc
			return nil
		})
		if err != nil {
			return err
		}
		return Output(out)
	},
}

var publishedCmd = &cobra.Command{
	Use:   "published",
	Short: "List the content zips in the blob store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		store, err := openBlob(ctx, svcctx.ServicesFrom(ctx))
		if err != nil {
			return err
		}
		keys, err := store.List(ctx, "exports/")
		if err != nil {
			return err
		}
		return Output(keys)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <name> <project>...",
	Short: "Render several projects as one reading history",
	Long: `Render the texts of several projects, in order, as one combined text
with a shared concordance. All projects must share their languages.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		s := svcctx.ServicesFrom(ctx)
		var projects []*project.Project
		for _, id := range args[1:] {
			p, err := openProject(ctx, id)
			if err != nil {
				return fmt.Errorf("project %s: %w", id, err)
			}
			projects = append(projects, p)
		}
		var dir string
		err = runJob(ctx, args[0], "reading_history", func(ctx context.Context) error {
			var err error
			dir, err = project.RenderHistory(ctx, s.Renderer, args[0], projects, renderOptions(ctx))
			return err
		})
		if err != nil {
			return err
		}
		return Output(map[string]string{"history": args[0], "dir": dir})
	},
}

func init() {
	for _, c := range []*cobra.Command{renderCmd, historyCmd} {
		c.Flags().BoolVar(&renderPhonetic, "phonetic", false, "render the phonetic text")
		c.Flags().BoolVar(&renderSelfContained, "self-contained", false, "copy media into the output")
		c.Flags().BoolVar(&renderNoAudio, "no-audio", false, "render without binding audio")
		c.Flags().StringVar(&renderURLPrefix, "url-prefix", "", "prefix of served media URLs (default from config)")
	}
	exportCmd.Flags().BoolVar(&renderPhonetic, "phonetic", false, "export the phonetic rendering")
	exportCmd.Flags().BoolVar(&exportPublish, "publish", false, "upload the zip to the blob store")

	rootCmd.AddCommand(renderCmd, exportCmd, publishedCmd, historyCmd)
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/svcctx"
)

var lexiconCmd = &cobra.Command{
	Use:   "lexicon",
	Short: "Manage phonetic lexicons",
}

var lexiconLoadCmd = &cobra.Command{
	Use:   "load <language> <file.json>",
	Short: "Load a plain phonetic lexicon",
	Long: `Load a JSON object mapping words to lists of pronunciations as uploaded
entries of a language's plain lexicon.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := svcctx.ServicesFrom(ctx).Lexicon.LoadPlainJSON(ctx, args[0], f)
		if err != nil {
			return err
		}
		return Output(map[string]any{"language": args[0], "entries": n})
	},
}

var lexiconEncodingCmd = &cobra.Command{
	Use:   "encoding <language> [encoding]",
	Short: "Show or set the phonetic encoding of a language",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		lex := svcctx.ServicesFrom(ctx).Lexicon
		if len(args) == 2 {
			if err := lex.SetEncoding(ctx, args[0], args[1]); err != nil {
				return err
			}
		}
		enc, err := lex.EncodingFor(ctx, args[0])
		if err != nil {
			return err
		}
		return Output(map[string]string{"language": args[0], "encoding": enc})
	},
}

func init() {
	lexiconCmd.AddCommand(lexiconLoadCmd, lexiconEncodingCmd)
	rootCmd.AddCommand(lexiconCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
	userName     string
)

var rootCmd = &cobra.Command{
	Use:   "clara",
	Short: "Annotated multimedia texts for language learners",
	Long: `Clara turns a plain text into an annotated multimedia text for
language learners.

A project moves through a chain of layers:
  - plain text, generated or supplied
  - segmentation into pages, segments and words
  - word-level annotations: gloss, lemma, translation, MWEs, phonetics
  - audio from TTS engines or human recordings
  - a static HTML rendering with a concordance, exportable as a zip`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.clara/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "clara home directory (default: ~/.clara)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&userName, "user", "", "user recorded in layer metadata")

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

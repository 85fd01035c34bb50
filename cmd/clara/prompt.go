package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/clara/internal/deps"
	"github.com/jackzampolin/clara/internal/prompts"
)

func promptResolver() (*prompts.Resolver, error) {
	h, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return prompts.NewResolver(prompts.NewStore(h.PromptsDir()), newLogger()), nil
}

type promptView struct {
	Language  string            `json:"language"`
	Phase     string            `json:"phase"`
	Mode      string            `json:"mode"`
	Hash      string            `json:"hash"`
	Variables []string          `json:"variables,omitempty"`
	Template  string            `json:"template"`
	Examples  []prompts.Example `json:"examples,omitempty"`
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Inspect and override annotation prompts",
}

var promptShowCmd = &cobra.Command{
	Use:   "show <language> <phase> <mode>",
	Short: "Show the template used for a language, phase and mode",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := promptResolver()
		if err != nil {
			return err
		}
		t, err := r.Resolve(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return Output(promptView{
			Language:  t.Language,
			Phase:     t.Phase,
			Mode:      t.Mode,
			Hash:      t.Hash,
			Variables: t.Variables,
			Template:  t.Text,
			Examples:  t.Examples,
		})
	},
}

var promptSetCmd = &cobra.Command{
	Use:   "set <language> <phase> <mode> <file.yaml>",
	Short: "Override a template",
	Long: `Store a template override read from a YAML file with template,
description and examples keys. The override takes precedence over the
built-in template for that language.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := promptResolver()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[3])
		if err != nil {
			return err
		}
		var mf prompts.ModeFile
		if err := yaml.Unmarshal(data, &mf); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[3], err)
		}
		return r.SaveOverride(args[0], args[1], args[2], mf)
	},
}

var promptResetCmd = &cobra.Command{
	Use:   "reset <language> <phase> <mode>",
	Short: "Remove a template override",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := promptResolver()
		if err != nil {
			return err
		}
		return r.DeleteOverride(args[0], args[1], args[2])
	},
}

var promptValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every built-in template parses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := promptResolver()
		if err != nil {
			return err
		}
		if err := r.ValidateAll(); err != nil {
			return err
		}
		return Output(r.Phases())
	},
}

type phaseView struct {
	Name       string   `json:"name"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "List project phases and their dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g := deps.DefaultGraph()
		var out []phaseView
		for _, name := range g.Names() {
			out = append(out, phaseView{
				Name:       name,
				DependsOn:  g.DependenciesOf(name),
				Dependents: g.DependentsOf(name),
			})
		}
		return Output(out)
	},
}

func init() {
	promptCmd.AddCommand(promptShowCmd, promptSetCmd, promptResetCmd, promptValidateCmd)
	rootCmd.AddCommand(promptCmd, phasesCmd)
}

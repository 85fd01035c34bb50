package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/clara/internal/deps"
	"github.com/jackzampolin/clara/internal/project"
	"github.com/jackzampolin/clara/internal/svcctx"
)

type statusView struct {
	Project string               `json:"project"`
	L2      string               `json:"l2"`
	L1      string               `json:"l1"`
	Words   int                  `json:"words,omitempty"`
	Phases  []deps.Status        `json:"phases"`
	Stale   []string             `json:"stale,omitempty"`
	Cost    *project.CostSummary `json:"cost"`
	Calls   map[string]int       `json:"calls,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show which phases of a project are up to date",
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
		phases, err := p.Status(ctx)
		if err != nil {
			return err
		}
		stale, err := p.Stale(ctx)
		if err != nil {
			return err
		}
		cost, err := p.Cost()
		if err != nil {
			return err
		}
		calls, err := svcctx.ServicesFrom(ctx).LLMCallStore.CountByPhase(p.ID())
		if err != nil {
			return err
		}
		v := statusView{Project: p.ID(), L2: p.L2(), L1: p.L1(), Phases: phases, Stale: stale, Cost: cost, Calls: calls}
		if n, err := p.WordCount(); err == nil {
			v.Words = n
		} else if !project.IsMissing(err) {
			return err
		}
		return Output(v)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ids, err := svcctx.HomeFrom(ctx).ProjectIDs()
		if err != nil {
			return err
		}
		var out []project.StoredData
		for _, id := range ids {
			p, err := openProject(ctx, id)
			if err != nil {
				svcctx.LoggerFrom(ctx).Warn("skipping unreadable project", "id", id, "error", err)
				continue
			}
			out = append(out, p.Stored())
		}
		return Output(out)
	},
}

var acknowledgementsCmd = &cobra.Command{
	Use:   "acknowledgements <project> [text]",
	Short: "Show or set the acknowledgements of a project",
	Args:  cobra.RangeArgs(1, 2),
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
		if len(args) == 2 {
			if err := p.SetAcknowledgements(args[1]); err != nil {
				return err
			}
		}
		ack, err := p.Acknowledgements()
		if err != nil {
			return err
		}
		return Output(map[string]string{"project": args[0], "acknowledgements": ack})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, acknowledgementsCmd)
}

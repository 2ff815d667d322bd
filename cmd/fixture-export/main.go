package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/replay"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	dbPath      string
	outPath     string
	threadID    string
	description string
	last        int
	withWeights bool
)

// #region main
func main() {
	root := &cobra.Command{
		Use:   "fixture-export",
		Short: "Export recent routing decisions as a replay fixture",
		Long: `Writes the last N initial routing decisions to a JSON fixture that the
replay tool and package tests can re-route. Each decision's recorded mode is
kept; set expected_mode by hand on the cases a regression test should pin.

Examples:
  fixture-export --db cogctl.db --out session.json
  fixture-export --db cogctl.db --out t42.json --thread support-42 --weights`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.Flags().StringVar(&dbPath, "db", "", "path to the controller database")
	root.Flags().StringVar(&outPath, "out", "", "output fixture JSON path")
	root.Flags().StringVar(&threadID, "thread", "", "only export this thread")
	root.Flags().StringVar(&description, "description", "", "fixture description")
	root.Flags().IntVar(&last, "last", 50, "number of most recent decisions to export")
	root.Flags().BoolVar(&withWeights, "weights", false, "embed the active weights in the fixture")
	root.MarkFlagRequired("db")  //nolint:errcheck
	root.MarkFlagRequired("out") //nolint:errcheck

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region export
func run(ctx context.Context) error {
	ws, err := weights.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer ws.Close()
	as, err := audit.NewStore(ws.DB())
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}

	var decisions []audit.Decision
	if threadID != "" {
		decisions, err = as.ThreadDecisions(ctx, threadID, time.Time{})
		if len(decisions) > last {
			decisions = decisions[len(decisions)-last:]
		}
	} else {
		decisions, err = as.RecentDecisions(ctx, last)
	}
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	sort.SliceStable(decisions, func(i, j int) bool { return decisions[i].CreatedAt.Before(decisions[j].CreatedAt) })

	if description == "" {
		description = fmt.Sprintf("exported from %s", dbPath)
	}
	f := replay.FromDecisions(description, decisions)
	if withWeights {
		active, err := ws.GetCurrent()
		if err != nil {
			return fmt.Errorf("active weights: %w", err)
		}
		f.Weights = &active.Weights
	}

	if err := replay.SaveFixture(outPath, f); err != nil {
		return err
	}
	fmt.Printf("wrote %d decisions to %s\n", len(f.Decisions), outPath)
	return nil
}

// #endregion export

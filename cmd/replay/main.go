package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/replay"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	dbPath      string
	fixturePath string
	versionID   string
	last        int
	overrides   []string
)

// errDiverged makes the exit code non-zero without printing twice.
type errDiverged int

func (e errDiverged) Error() string { return fmt.Sprintf("%d decisions diverged", int(e)) }

// #region main
func main() {
	root := &cobra.Command{
		Use:   "replay",
		Short: "Re-route recorded signal snapshots under a weights version",
		Long: `Fixture mode re-routes a JSON fixture and compares each decision with its
expected (or recorded) mode. DB mode re-routes the last N initial decisions
under the active weights and under a candidate, and prints the routes that
change.

Examples:
  replay --fixture internal/replay/testdata/live_session.json
  replay --db cogctl.db --last 500 --version 3f2c...
  replay --db cogctl.db --set margin.base=0.15 --set act.imperative=0.7`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (dbPath == "") == (fixturePath == "") {
				return fmt.Errorf("exactly one of --db or --fixture is required")
			}
			if fixturePath != "" {
				return runFixtureMode(fixturePath)
			}
			return runDBMode(cmd.Context(), dbPath)
		},
	}
	root.Flags().StringVar(&dbPath, "db", "", "path to the controller database (DB mode)")
	root.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture JSON (fixture mode)")
	root.Flags().StringVar(&versionID, "version", "", "candidate weights version (DB mode)")
	root.Flags().IntVar(&last, "last", 200, "decisions to replay (DB mode)")
	root.Flags().StringArrayVar(&overrides, "set", nil, "param=value override on the candidate weights")

	if err := root.Execute(); err != nil {
		var d errDiverged
		if errors.As(err, &d) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// #endregion main

// #region fixture-mode
func runFixtureMode(path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	if err := applyOverrides(f); err != nil {
		return err
	}
	w, err := f.RouterWeights()
	if err != nil {
		return err
	}
	results, err := replay.Replay(w, f.Cases())
	if err != nil {
		return err
	}
	return printComparison(results)
}

func applyOverrides(f *replay.Fixture) error {
	if len(overrides) == 0 {
		return nil
	}
	if f.Overrides == nil {
		f.Overrides = make(map[string]float64)
	}
	for _, o := range overrides {
		name, raw, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("override %q: want param=value", o)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("override %q: %w", o, err)
		}
		f.Overrides[strings.TrimSpace(name)] = v
	}
	return nil
}

// #endregion fixture-mode

// #region db-mode
func runDBMode(ctx context.Context, path string) error {
	ws, err := weights.NewStore(path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer ws.Close()
	as, err := audit.NewStore(ws.DB())
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}

	active, err := ws.GetCurrent()
	if err != nil {
		return fmt.Errorf("active weights: %w", err)
	}
	candidate := &replay.Fixture{Weights: &active.Weights}
	if versionID != "" {
		rec, err := ws.GetVersion(versionID)
		if err != nil {
			return fmt.Errorf("candidate weights: %w", err)
		}
		candidate.Weights = &rec.Weights
	}
	if err := applyOverrides(candidate); err != nil {
		return err
	}
	cw, err := candidate.RouterWeights()
	if err != nil {
		return err
	}

	decisions, err := as.RecentDecisions(ctx, last)
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	// recent comes newest first; hysteresis needs arrival order
	sort.SliceStable(decisions, func(i, j int) bool { return decisions[i].CreatedAt.Before(decisions[j].CreatedAt) })
	cases := replay.FromDecisions("db", decisions).Cases()
	if len(cases) == 0 {
		fmt.Fprintln(os.Stderr, "no initial decisions found")
		return nil
	}

	baseline, err := replay.Replay(active.Weights, cases)
	if err != nil {
		return err
	}
	changed, err := replay.Replay(cw, cases)
	if err != nil {
		return err
	}

	diff := replay.Diff(baseline, changed)
	fmt.Printf("%-38s| %-12s| %-12s| %s\n", "Decision", "Active", "Candidate", "Margin")
	fmt.Printf("%-38s+%-13s+%-13s+%s\n", strings.Repeat("-", 38), strings.Repeat("-", 13), strings.Repeat("-", 13), "--------")
	for _, pair := range diff {
		fmt.Printf("%-38s| %-12s| %-12s| %.3f\n", pair[0].ID, pair[0].Mode, pair[1].Mode, pair[1].Margin)
	}
	printSummary("active", replay.Summarize(baseline))
	printSummary("candidate", replay.Summarize(changed))
	fmt.Printf("\n%d of %d routes change under the candidate\n", len(diff), len(cases))
	return nil
}

// #endregion db-mode

// #region output
// printComparison prints one row per case and fails when any case with a
// reference mode diverged.
func printComparison(results []replay.ReplayResult) error {
	fmt.Printf("%-14s| %-12s| %-12s| %s\n", "Decision", "Reference", "Replayed", "Match")
	fmt.Printf("%-14s+%-13s+%-13s+%s\n", "--------------", "-------------", "-------------", "------")

	diverged := 0
	for _, r := range results {
		ref := r.Expected
		if ref == mode.None {
			ref = r.Recorded
		}
		match := "-"
		if ref != mode.None {
			match = "OK"
			if ref != r.Mode {
				match = "DIFF"
				diverged++
			}
		}
		if r.CloseCall {
			match += " (close)"
		}
		fmt.Printf("%-14s| %-12s| %-12s| %s\n", r.ID, ref, r.Mode, match)
	}
	printSummary("replay", replay.Summarize(results))

	if diverged > 0 {
		return errDiverged(diverged)
	}
	return nil
}

func printSummary(label string, s replay.ReplaySummary) {
	fmt.Printf("\n%s: %d total, %d changed, %d close calls, entropy %.3f\n",
		label, s.Total, s.Changed, s.CloseCalls, s.Entropy)
	for _, m := range mode.All {
		if n := s.Distribution[m]; n > 0 {
			fmt.Printf("  %-12s %d\n", m, n)
		}
	}
}

// #endregion output

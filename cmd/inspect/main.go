package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/logging"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/regulator"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	dbPath  string
	last    int
	jsonOut bool
)

const timeFmt = "2006-01-02T15:04:05Z"

// #region main
func main() {
	root := &cobra.Command{
		Use:          "inspect",
		Short:        "Read-only views over the controller database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the controller database")
	root.PersistentFlags().IntVar(&last, "last", 20, "show N most recent rows")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")
	root.MarkPersistentFlagRequired("db") //nolint:errcheck

	var detail string
	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "List weights versions, or show one with --version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(ws *weights.Store) error {
				if detail != "" {
					return runVersionDetail(ws, detail)
				}
				return runVersions(ws)
			})
		},
	}
	versionsCmd.Flags().StringVar(&detail, "version", "", "show single version detail")

	decisionsCmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recent routing decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(ws *weights.Store) error { return runDecisions(cmd, ws) })
		},
	}
	iterationsCmd := &cobra.Command{
		Use:   "iterations",
		Short: "List recent ACT iterations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(ws *weights.Store) error { return runIterations(cmd, ws) })
		},
	}
	adjustmentsCmd := &cobra.Command{
		Use:   "adjustments",
		Short: "List regulator adjustments and their verification status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(ws *weights.Store) error { return runAdjustments(cmd, ws) })
		},
	}
	provenanceCmd := &cobra.Command{
		Use:   "provenance",
		Short: "List regulation provenance entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(runProvenance)
		},
	}
	root.AddCommand(versionsCmd, decisionsCmd, iterationsCmd, adjustmentsCmd, provenanceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withStore(fn func(ws *weights.Store) error) error {
	ws, err := weights.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer ws.Close()
	return fn(ws)
}

// #endregion main

// #region versions
type versionRow struct {
	VersionID string  `json:"version_id"`
	ParentID  string  `json:"parent_id,omitempty"`
	Version   int64   `json:"version"`
	Changed   int     `json:"changed_params"`
	DeltaNorm float64 `json:"delta_norm"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func runVersions(ws *weights.Store) error {
	recs, err := ws.ListVersions(last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	rows := make([]versionRow, len(recs))
	for i, r := range recs {
		row := versionRow{
			VersionID: r.VersionID,
			ParentID:  r.ParentID,
			Version:   r.Version,
			Reason:    r.Reason,
			CreatedAt: r.CreatedAt.UTC().Format(timeFmt),
		}
		if r.ParentID != "" {
			if parent, err := ws.GetVersion(r.ParentID); err == nil {
				diffs := paramDiff(parent.Weights, r.Weights)
				row.Changed = len(diffs)
				row.DeltaNorm = deltaNorm(diffs)
			}
		}
		// store returns newest first; print chronologically
		rows[len(recs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-8s  %-12s  %7s  %9s  %-20s  %s\n", "Version", "ID", "Changed", "Delta", "Time", "Reason")
	fmt.Printf("%-8s+-%-12s+-%7s+-%9s+-%-20s+-%s\n", "--------", "------------", "-------", "---------", "--------------------", "------")
	for _, r := range rows {
		fmt.Printf("%-8d  %-12s  %7d  %9.4f  %-20s  %s\n", r.Version, short(r.VersionID), r.Changed, r.DeltaNorm, r.CreatedAt, r.Reason)
	}
	return nil
}

type paramChange struct {
	Name string  `json:"name"`
	Old  float64 `json:"old"`
	New  float64 `json:"new"`
}

func runVersionDetail(ws *weights.Store, id string) error {
	rec, err := ws.GetVersion(id)
	if err != nil {
		return err
	}
	var changes []paramChange
	if rec.ParentID != "" {
		if parent, err := ws.GetVersion(rec.ParentID); err == nil {
			changes = paramDiff(parent.Weights, rec.Weights)
		}
	}

	if jsonOut {
		return printJSON(struct {
			weights.Record
			Changes []paramChange `json:"changes"`
		}{rec, changes})
	}
	fmt.Printf("Version:   %d (%s)\n", rec.Version, rec.VersionID)
	fmt.Printf("Parent:    %s\n", orDash(rec.ParentID))
	fmt.Printf("Created:   %s\n", rec.CreatedAt.UTC().Format(timeFmt))
	fmt.Printf("Reason:    %s\n", orDash(rec.Reason))
	fmt.Printf("Margins:   base=%.3f min=%.3f\n", rec.Weights.Margin.Base, rec.Weights.Margin.Min)
	if len(changes) == 0 {
		fmt.Println("Changes:   none")
		return nil
	}
	fmt.Println("Changes:")
	for _, c := range changes {
		fmt.Printf("  %-36s %8.4f -> %8.4f (%+.4f)\n", c.Name, c.Old, c.New, c.New-c.Old)
	}
	return nil
}

func paramDiff(a, b weights.RouterWeights) []paramChange {
	var out []paramChange
	for _, p := range weights.Params() {
		av, errA := a.Get(p.Name)
		bv, errB := b.Get(p.Name)
		if errA != nil || errB != nil || av == bv {
			continue
		}
		out = append(out, paramChange{Name: p.Name, Old: av, New: bv})
	}
	return out
}

func deltaNorm(cs []paramChange) float64 {
	var sum float64
	for _, c := range cs {
		d := c.New - c.Old
		sum += d * d
	}
	return math.Sqrt(sum)
}

// #endregion versions

// #region decisions
func runDecisions(cmd *cobra.Command, ws *weights.Store) error {
	as, err := audit.NewStore(ws.DB())
	if err != nil {
		return err
	}
	ds, err := as.RecentDecisions(cmd.Context(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(ds)
	}
	fmt.Printf("%-20s  %-14s  %-8s  %-12s  %6s  %6s  %-9s  %s\n",
		"Time", "Thread", "Phase", "Mode", "Conf", "Margin", "Tiebreak", "Feedback")
	for _, d := range ds {
		tb := "-"
		if d.TiebreakerUsed {
			tb = "used"
		} else if d.TiebreakOutcome != "" {
			tb = d.TiebreakOutcome
		}
		fmt.Printf("%-20s  %-14s  %-8s  %-12s  %6.3f  %6.3f  %-9s  %s\n",
			d.CreatedAt.UTC().Format(timeFmt), short(d.ThreadID), d.Phase, d.Mode,
			d.Confidence, d.Margin, tb, orDash(string(d.Feedback)))
	}
	return nil
}

// #endregion decisions

// #region iterations
func runIterations(cmd *cobra.Command, ws *weights.Store) error {
	as, err := audit.NewStore(ws.DB())
	if err != nil {
		return err
	}
	its, err := as.RecentIterations(cmd.Context(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(its)
	}
	fmt.Printf("%-20s  %-12s  %3s  %-30s  %6s  %7s  %s\n", "Started", "Cycle", "#", "Actions", "Cost", "Fatigue", "Termination")
	for _, it := range its {
		actions := make([]string, 0, len(it.Executed))
		for _, r := range it.Executed {
			actions = append(actions, r.Action.Type+":"+r.Status)
		}
		if it.PlanError != "" {
			actions = append(actions, "plan_error")
		}
		fmt.Printf("%-20s  %-12s  %3d  %-30s  %6.2f  %7.2f  %s\n",
			it.StartedAt.UTC().Format(timeFmt), short(it.CycleID), it.Number,
			strings.Join(actions, ","), it.Cost, it.FatigueAfter, orDash(string(it.Termination)))
	}
	return nil
}

// #endregion iterations

// #region regulation
func runAdjustments(cmd *cobra.Command, ws *weights.Store) error {
	h, err := regulator.NewHistory(ws.DB())
	if err != nil {
		return err
	}
	adjs, err := h.Recent(cmd.Context(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(adjs)
	}
	fmt.Printf("%-20s  %-7s  %-20s  %-18s  %9s  %7s  %7s  %s\n",
		"Time", "Kind", "Metric", "Param", "Delta", "Before", "After", "Status")
	for _, a := range adjs {
		after := "-"
		if !a.VerifiedAt.IsZero() {
			after = fmt.Sprintf("%.3f", a.PressureAfter)
		}
		fmt.Printf("%-20s  %-7s  %-20s  %-18s  %+9.4f  %7.3f  %7s  %s\n",
			a.CreatedAt.UTC().Format(timeFmt), a.Kind, a.Metric, a.Param, a.Delta, a.PressureBefore, after, a.Status)
	}
	return nil
}

func runProvenance(ws *weights.Store) error {
	if err := logging.Migrate(ws.DB()); err != nil {
		return err
	}
	entries, err := logging.Recent(ws.DB(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	fmt.Printf("%-20s  %-12s  %-9s  %-8s  %s\n", "Time", "Version", "Trigger", "Decision", "Reason")
	for _, e := range entries {
		fmt.Printf("%-20s  %-12s  %-9s  %-8s  %s\n",
			e.CreatedAt.UTC().Format(timeFmt), short(e.VersionID), e.TriggerType, e.Decision, e.Reason)
	}
	return nil
}

// #endregion regulation

// #region helpers
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion helpers

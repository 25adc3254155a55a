package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"stagehand/internal/logging"
	"stagehand/internal/pipeline"
	"stagehand/internal/state"
)

func printRuns(w io.Writer, store *state.Store, n int) error {
	runs, err := store.LatestRuns(n)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSTATE\tPHASE")
	for _, run := range runs {
		phase := run.Phase
		if phase == "" {
			phase = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.RunID, run.StartTime.Local().Format(time.DateTime), run.Status, run.State, phase)
	}
	return tw.Flush()
}

// printPlan writes the dry-run plan and reports whether any step is
// unrunnable.
func printPlan(w io.Writer, root string, plan []pipeline.PlannedStep) bool {
	broken := false
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTEP\tPATH\tWORKDIR\tSTATUS")
	for _, ps := range plan {
		status := "ok"
		path, workDir := "-", "-"
		if ps.Path != "" {
			path = relOrAbs(root, ps.Path)
			workDir = relOrAbs(root, ps.WorkDir)
		}
		if ps.Err != nil {
			broken = true
			status = logging.ASCII(ps.Err.Error())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ps.Phase, ps.Script, path, workDir, status)
	}
	tw.Flush()
	return broken
}

func relOrAbs(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

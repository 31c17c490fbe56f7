package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/logbook"
	"github.com/kingrea/contenta/internal/orchestrator"
)

const (
	statusRuns     = 5
	statusLogLines = 15
)

func (a *app) newStatusCommand() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the latest outcome of every step, recent runs and the job log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if err := orchestrator.ValidateJobID(jobID); err != nil {
				return err
			}
			env, err := a.openEnvironment(true)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			latest, err := env.ledger.Latest(ctx, jobID)
			if err != nil {
				return err
			}
			runs, err := env.ledger.Runs(ctx, jobID, statusRuns)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			steps := newTable("STEP", "LABEL", "STATUS", "ELAPSED", "REASON")
			for _, desc := range env.reg.Descriptors() {
				outcome, ok := latest[desc.ID]
				if !ok {
					steps.Row(desc.ID, desc.Label, "-", "", "")
					continue
				}
				steps.Row(desc.ID, desc.Label, string(outcome.Status), outcome.Elapsed.Round(time.Millisecond).String(), outcome.Reason)
			}
			fmt.Fprintf(out, "job %s\n%s\n", jobID, steps.Render())

			if len(runs) > 0 {
				history := newTable("RUN", "START", "MODE", "STARTED", "STATUS")
				for _, run := range runs {
					history.Row(run.ID, run.StartStep, run.Mode, run.StartedAt.Local().Format(time.DateTime), run.Status)
				}
				fmt.Fprintln(out, history.Render())
			}

			ws, err := artifact.NewWorkspace(env.jobsDir, jobID)
			if err != nil {
				return err
			}
			printTail(out, ws.JobLogPath(), lines)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", statusLogLines, "job log lines to show")
	return cmd
}

func printTail(out io.Writer, path string, n int) {
	tail, total := logbook.TailFile(path, n)
	if total == 0 {
		fmt.Fprintf(out, "no job log at %s\n", path)
		return
	}
	fmt.Fprintf(out, "last %d of %d log lines (%s):\n", len(tail), total, path)
	for _, line := range tail {
		fmt.Fprintln(out, line)
	}
}

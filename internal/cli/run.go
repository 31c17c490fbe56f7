package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingrea/contenta/internal/credentials"
	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/orchestrator"
	"github.com/kingrea/contenta/internal/step"
	"github.com/kingrea/contenta/internal/telemetry"
	"github.com/kingrea/contenta/internal/tui"
)

// picker chooses a start step for jobID among descs.
type picker func(in io.Reader, out io.Writer, jobID string, descs []step.Descriptor, latest map[string]ledger.StepOutcome) (string, error)

var tuiPicker picker = tui.Pick

type runFlags struct {
	step  string
	all   bool
	pick  bool
	fresh bool
}

func (a *app) newRunCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <job_id>",
		Short: "Run one step, or every step from a start step, for a job",
		Long: `Run executes the step given by --step for the job, or with --all every
step from there to the end of the pipeline.

Starting at the first step (or passing --fresh) recreates the job workspace;
starting later resumes in the existing one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd.Context(), args[0], flags, cmd.Flags().Changed("step"))
		},
	}
	cmd.Flags().StringVar(&flags.step, "step", "00", "start step id, SS or SS-N")
	cmd.Flags().BoolVar(&flags.all, "all", false, "run from the start step through the last step")
	cmd.Flags().BoolVar(&flags.pick, "pick", false, "choose the start step interactively")
	cmd.Flags().BoolVar(&flags.fresh, "fresh", false, "recreate the workspace even when not starting at the first step")
	return cmd
}

func (a *app) runJob(ctx context.Context, jobID string, flags runFlags, stepSet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := orchestrator.ValidateJobID(jobID); err != nil {
		return err
	}
	if flags.pick && stepSet {
		return fmt.Errorf("use either --step or --pick")
	}
	env, err := a.openEnvironment(true)
	if err != nil {
		return err
	}
	defer env.Close()

	start := flags.step
	if flags.pick {
		if start, err = a.pickStart(ctx, env, jobID); err != nil {
			return &orchestrator.StartupError{Stage: "arguments", Err: err}
		}
	} else if !stepSet {
		start = env.reg.First()
	}
	if err := orchestrator.ValidateStartStep(env.reg, start); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(a.traceFile, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			env.log.Warn("%v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := env.cfg.Watch(ctx, func() {
		env.log.Debug("config file rewritten on disk; reloading before the next step")
	}); err != nil {
		env.log.Warn("config watch disabled: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:       env.reg,
		Config:         env.cfg,
		Jobs:           env.jobs,
		Log:            env.log,
		JobsDir:        env.jobsDir,
		LogDir:         env.logDir,
		RequiredConfig: env.def.RequiredConfig,
		Ledger:         env.ledger,
		Refresher:      credentials.FromConfig(env.cfg, env.log),
	})
	if err != nil {
		return err
	}
	_, err = orch.Run(ctx, orchestrator.Request{
		JobID:     jobID,
		StartStep: start,
		All:       flags.all,
		Fresh:     flags.fresh,
	})
	return err
}

func (a *app) pickStart(ctx context.Context, env *environment, jobID string) (string, error) {
	if err := requireTerminal(a); err != nil {
		return "", err
	}
	latest, err := env.ledger.Latest(ctx, jobID)
	if err != nil {
		env.log.Warn("ledger: %v", err)
		latest = nil
	}
	return a.pick(a.stdin, a.stdout, jobID, env.reg.Descriptors(), latest)
}

// Package cli wires the stores and the orchestrator behind the contenta
// command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

type app struct {
	configPath   string
	pipelinePath string
	traceFile    string
	noColor      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// pick chooses a start step interactively. Replaced in tests.
	pick picker
	// terminal reports whether stdin is an interactive terminal.
	terminal func(io.Reader) bool
}

// NewRootCommand builds the command tree bound to the given streams.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		pick:     tuiPicker,
		terminal: isTerminal,
	}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "contenta",
		Short: "Provision a WordPress site for a job, one numbered step at a time",
		Long: `contenta runs the numbered provisioning steps for one job.

Each step declares the artifacts it needs; a step whose inputs are missing is
skipped, and the first failing step stops the run.

Examples:
  contenta run 2506290730-3450             # prepare job data (step 00) only
  contenta run 2506290730-3450 --all       # full deployment
  contenta run 2506290730-3450 --step=09 --all
  contenta steps
  contenta status 2506290730-3450`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $CONTENTA_CONFIG or config/config.json)")
	flags.StringVar(&a.pipelinePath, "pipeline", "", "pipeline definition YAML (default: built-in WordPress pipeline)")
	flags.StringVar(&a.traceFile, "trace-file", "", "append run traces as JSON lines to this file")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored log levels")

	root.AddCommand(
		a.newRunCommand(),
		a.newStepsCommand(),
		a.newStatusCommand(),
		a.newConfigCommand(),
	)
	return root
}

// Run executes args and returns the process exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdin, stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// Execute runs the CLI against the process arguments and streams.
func Execute() int {
	return Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

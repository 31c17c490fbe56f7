package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/job"
	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/logbook"
	"github.com/kingrea/contenta/internal/pipeline"
	"github.com/kingrea/contenta/internal/step"
	"github.com/kingrea/contenta/internal/steps"
)

// Config keys for the directories the CLI wires together.
const (
	keyJobsDir    = "paths.jobs_dir"
	keyDataDir    = "paths.data_dir"
	keyLogDir     = "paths.log_dir"
	keyScriptsDir = "paths.scripts_dir"
	keyLedger     = "paths.ledger"
)

// environment is everything one command needs, opened from the config file.
type environment struct {
	cfg      *config.Config
	def      pipeline.Definition
	reg      *step.Registry
	log      *logbook.Logbook
	jobs     *job.Store
	ledger   *ledger.Ledger
	jobsDir  string
	logDir   string
	scripts  string
	ledgerDB string
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.New(config.ResolvePath(a.configPath))
}

// openEnvironment loads the config and pipeline and builds the registry. The
// ledger is opened only when withLedger is set.
func (a *app) openEnvironment(withLedger bool) (*environment, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	def, err := pipeline.Load(a.pipelinePath)
	if err != nil {
		return nil, err
	}
	env := &environment{
		cfg:      cfg,
		def:      def,
		jobsDir:  resolveDir(cfg, keyJobsDir, "jobs"),
		logDir:   resolveDir(cfg, keyLogDir, "logs"),
		scripts:  resolveDir(cfg, keyScriptsDir, "scripts"),
		ledgerDB: resolveDir(cfg, keyLedger, filepath.Join("data", "ledger.db")),
	}
	env.jobs = job.NewStore(resolveDir(cfg, keyDataDir, "data"))

	env.reg = step.NewRegistry()
	if err := steps.RegisterBuiltins(env.reg, env.scripts); err != nil {
		return nil, err
	}
	if err := pipeline.Populate(def, env.reg); err != nil {
		return nil, err
	}

	stdout := a.stdout
	if stdout == nil {
		stdout = io.Discard
	}
	env.log, err = logbook.New(logbook.Options{LogDir: env.logDir, Stdout: stdout, NoColor: a.noColor})
	if err != nil {
		return nil, err
	}
	if withLedger {
		env.ledger, err = ledger.Open(env.ledgerDB)
		if err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (e *environment) Close() error {
	if e == nil || e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}

// resolveDir reads a path from the config; relative paths are taken from the
// current working directory.
func resolveDir(cfg *config.Config, key, def string) string {
	value := cfg.String(key, def)
	if filepath.IsAbs(value) {
		return value
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return value
	}
	return abs
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func requireTerminal(a *app) error {
	if a.terminal == nil || !a.terminal(a.stdin) {
		return fmt.Errorf("--pick needs an interactive terminal on stdin")
	}
	return nil
}

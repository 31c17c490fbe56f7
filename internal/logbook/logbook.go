package logbook

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timeLayout = "2006-01-02 15:04:05"

var levelColors = map[Level]lipgloss.Color{
	LevelDebug: lipgloss.Color("#888888"),
	LevelInfo:  lipgloss.Color("#5B8DEF"),
	LevelWarn:  lipgloss.Color("#F2C94C"),
	LevelError: lipgloss.Color("#FF6B6B"),
}

// Options configures the sinks.
type Options struct {
	// LogDir holds deploy-YYYY-MM-DD.log. Empty disables the daily file.
	LogDir string
	// Stdout defaults to os.Stdout. Use io.Discard to silence the console.
	Stdout io.Writer
	// Clock defaults to time.Now.
	Clock func() time.Time
	// NoColor disables level colors even on a terminal.
	NoColor bool
}

// Logbook writes every entry to stdout, the shared daily file and, once a
// job is attached, the per-job file. Files are opened per entry so an entry
// is on disk as soon as Append returns.
type Logbook struct {
	mu      sync.Mutex
	logDir  string
	stdout  io.Writer
	clock   func() time.Time
	styles  map[Level]lipgloss.Style
	jobPath string
}

// New creates the log directory and returns a logbook.
func New(opts Options) (*Logbook, error) {
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("logbook: ensure log dir: %w", err)
		}
	}
	l := &Logbook{
		logDir: opts.LogDir,
		stdout: opts.Stdout,
		clock:  opts.Clock,
	}
	if l.stdout == nil {
		l.stdout = os.Stdout
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if !opts.NoColor && isTerminal(l.stdout) {
		renderer := lipgloss.NewRenderer(l.stdout)
		l.styles = make(map[Level]lipgloss.Style, len(levelColors))
		for level, color := range levelColors {
			l.styles[level] = renderer.NewStyle().Foreground(color).Bold(level == LevelError)
		}
	}
	return l, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// AttachJob routes entries to the per-job file at path as well. With
// truncate the file starts empty, which happens once per fresh job run.
func (l *Logbook) AttachJob(path string, truncate bool) error {
	if l == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logbook: ensure job log dir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open job log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("logbook: open job log: %w", err)
	}
	l.mu.Lock()
	l.jobPath = path
	l.mu.Unlock()
	return nil
}

// DailyPath returns today's shared log file, or "" when disabled.
func (l *Logbook) DailyPath() string {
	if l == nil || l.logDir == "" {
		return ""
	}
	return filepath.Join(l.logDir, "deploy-"+l.clock().Format("2006-01-02")+".log")
}

// JobPath returns the attached per-job file.
func (l *Logbook) JobPath() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jobPath
}

// Append writes a single entry to every sink.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stamp := "[" + l.clock().Format(timeLayout) + "]"
	message = strings.TrimSpace(message)
	line := fmt.Sprintf("%s [%s] %s\n", stamp, level, message)

	tag := "[" + string(level) + "]"
	if style, ok := l.styles[level]; ok {
		tag = style.Render(tag)
	}
	_, _ = fmt.Fprintf(l.stdout, "%s %s %s\n", stamp, tag, message)

	if l.logDir != "" {
		appendLine(filepath.Join(l.logDir, "deploy-"+l.clock().Format("2006-01-02")+".log"), line)
	}
	if l.jobPath != "" {
		appendLine(l.jobPath, line)
	}
}

func appendLine(path, line string) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent per-job entries together
// with the total number of lines in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil {
		return nil, 0
	}
	return TailFile(l.JobPath(), maxLines)
}

// TailFile returns the last maxLines lines of path and its line count.
func TailFile(path string, maxLines int) ([]string, int) {
	if path == "" || maxLines <= 0 {
		return nil, 0
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		total++
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return nil, total
	}
	return lines, total
}

// Debug appends a diagnostic entry.
func (l *Logbook) Debug(format string, args ...any) {
	l.Append(LevelDebug, fmt.Sprintf(format, args...))
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

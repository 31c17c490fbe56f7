// Package tui holds the interactive start-step picker used by `run --pick`.
package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/step"
)

// ErrCancelled is returned when the user leaves the picker without choosing.
var ErrCancelled = errors.New("step selection cancelled")

// stepItem implements list.Item for one registered step.
type stepItem struct {
	desc step.Descriptor
	last *ledger.StepOutcome
}

func (i stepItem) Title() string { return fmt.Sprintf("%s  %s", i.desc.ID, i.desc.Label) }

func (i stepItem) Description() string {
	parts := []string{}
	if len(i.desc.Requires) > 0 {
		parts = append(parts, "needs "+strings.Join(i.desc.Requires, ", "))
	}
	if i.last != nil {
		parts = append(parts, fmt.Sprintf("last: %s", i.last.Status))
	}
	if len(parts) == 0 {
		return i.desc.Kind
	}
	return strings.Join(parts, " · ")
}

func (i stepItem) FilterValue() string { return i.desc.ID }

// Picker is the bubbletea model for choosing a start step.
type Picker struct {
	list      list.Model
	jobID     string
	selected  string
	cancelled bool
}

// NewPicker builds a picker over descs. latest annotates each row with the
// step's most recent outcome and may be nil.
func NewPicker(jobID string, descs []step.Descriptor, latest map[string]ledger.StepOutcome) *Picker {
	items := make([]list.Item, 0, len(descs))
	for _, desc := range descs {
		item := stepItem{desc: desc}
		if outcome, ok := latest[desc.ID]; ok {
			item.last = &outcome
		}
		items = append(items, item)
	}
	menu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	menu.Title = fmt.Sprintf("Start step for job %s", jobID)
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	return &Picker{list: menu, jobID: jobID}
}

// Init implements tea.Model.
func (p *Picker) Init() tea.Cmd { return nil }

// Update implements tea.Model. Selection keys are handled before the list
// sees them.
func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.list.SetSize(msg.Width, msg.Height-2)
		return p, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			p.cancelled = true
			return p, tea.Quit
		case "enter":
			if item, ok := p.list.SelectedItem().(stepItem); ok {
				p.selected = item.desc.ID
				return p, tea.Quit
			}
			return p, nil
		}
	}
	var cmd tea.Cmd
	p.list, cmd = p.list.Update(msg)
	return p, cmd
}

// View implements tea.Model.
func (p *Picker) View() string {
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render("enter: start here · esc: cancel")
	return lipgloss.JoinVertical(lipgloss.Left, p.list.View(), hint)
}

// Selected returns the chosen step id, or ErrCancelled.
func (p *Picker) Selected() (string, error) {
	if p.cancelled || p.selected == "" {
		return "", ErrCancelled
	}
	return p.selected, nil
}

// Pick runs the picker on the given terminal streams and returns the chosen
// step id.
func Pick(in io.Reader, out io.Writer, jobID string, descs []step.Descriptor, latest map[string]ledger.StepOutcome) (string, error) {
	if len(descs) == 0 {
		return "", fmt.Errorf("tui: no steps to pick from")
	}
	picker := NewPicker(jobID, descs, latest)
	model, err := tea.NewProgram(picker, tea.WithInput(in), tea.WithOutput(out), tea.WithAltScreen()).Run()
	if err != nil {
		return "", fmt.Errorf("tui: %w", err)
	}
	final, ok := model.(*Picker)
	if !ok {
		return "", fmt.Errorf("tui: unexpected model %T", model)
	}
	return final.Selected()
}

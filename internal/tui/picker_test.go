package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/step"
)

func testDescriptors() []step.Descriptor {
	return []step.Descriptor{
		{ID: "00", Label: "Prepare job data", Kind: "prepare"},
		{ID: "01", Label: "Register domain", Kind: "command", Requires: []string{"config/processed_data.json"}},
		{ID: "09-5", Label: "Generate AI images", Kind: "command"},
	}
}

func newSizedPicker(t *testing.T, latest map[string]ledger.StepOutcome) *Picker {
	t.Helper()
	p := NewPicker("2506290730-3450", testDescriptors(), latest)
	model, _ := p.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return model.(*Picker)
}

func press(t *testing.T, p *Picker, msg tea.KeyMsg) (*Picker, tea.Cmd) {
	t.Helper()
	model, cmd := p.Update(msg)
	next, ok := model.(*Picker)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}
	return next, cmd
}

func TestEnterSelectsHighlightedStep(t *testing.T) {
	p := newSizedPicker(t, nil)
	p, _ = press(t, p, tea.KeyMsg{Type: tea.KeyDown})
	p, cmd := press(t, p, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter should quit the program")
	}
	got, err := p.Selected()
	if err != nil {
		t.Fatalf("selected: %v", err)
	}
	if got != "01" {
		t.Fatalf("expected 01, got %s", got)
	}
}

func TestEscCancels(t *testing.T) {
	for _, key := range []tea.KeyMsg{{Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		p := newSizedPicker(t, nil)
		p, cmd := press(t, p, key)
		if cmd == nil {
			t.Fatalf("%s should quit the program", key)
		}
		if _, err := p.Selected(); !errors.Is(err, ErrCancelled) {
			t.Fatalf("%s: expected ErrCancelled, got %v", key, err)
		}
	}
}

func TestNoSelectionIsCancelled(t *testing.T) {
	p := newSizedPicker(t, nil)
	if _, err := p.Selected(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled before any choice, got %v", err)
	}
}

func TestViewShowsStepsAndLastOutcome(t *testing.T) {
	p := newSizedPicker(t, map[string]ledger.StepOutcome{
		"00": {StepID: "00", Status: step.StatusSuccess},
	})
	view := p.View()
	for _, want := range []string{"2506290730-3450", "Prepare job data", "09-5", "last: success", "esc: cancel"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestPickRejectsEmptyRegistry(t *testing.T) {
	if _, err := Pick(strings.NewReader(""), &strings.Builder{}, "2506290730-3450", nil, nil); err == nil {
		t.Fatalf("expected error for empty step list")
	}
}

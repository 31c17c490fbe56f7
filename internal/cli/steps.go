package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func (a *app) newStepsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the pipeline steps in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.openEnvironment(false)
			if err != nil {
				return err
			}
			t := newTable("STEP", "LABEL", "KIND", "REQUIRES", "OUTPUTS")
			for _, desc := range env.reg.Descriptors() {
				requires := strings.Join(append(append([]string{}, desc.Requires...), configKeys(desc.RequiresConfig)...), "\n")
				if desc.RefreshCredentials {
					requires = strings.TrimSpace(requires + "\n(refreshes credentials)")
				}
				t.Row(desc.ID, desc.Label, desc.Kind, requires, strings.Join(desc.Outputs, "\n"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", env.def.Name, env.def.ID)
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func configKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, "config:"+key)
	}
	return out
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/contenta/internal/pipeline"
)

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read, write and validate the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the value at a dotted key as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				if !cfg.Has(args[0]) {
					return fmt.Errorf("config: %s is not set", args[0])
				}
				encoded, err := json.MarshalIndent(cfg.Get(args[0], nil), "", "  ")
				if err != nil {
					return fmt.Errorf("config: encode %s: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a dotted key; values that parse as JSON are stored typed",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.Set(args[0], parseValue(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], cfg.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate [key...]",
			Short: "Check that keys are set; defaults to the pipeline's required keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				keys := args
				if len(keys) == 0 {
					def, err := pipeline.Load(a.pipelinePath)
					if err != nil {
						return err
					}
					keys = def.RequiredConfig
					for _, s := range def.Steps {
						keys = append(keys, s.RequiresConfig...)
					}
				}
				if err := cfg.Validate(keys); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\n", strings.Join(keys, ", "))
				return nil
			},
		},
	)
	return cmd
}

// parseValue keeps JSON scalars, arrays and objects typed and falls back to a
// plain string.
func parseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

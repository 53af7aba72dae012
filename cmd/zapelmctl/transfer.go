package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/zapelm/rule"
)

func newExportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every rule as JSON (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := st.LoadRuleMap(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(args[0], data, 0o644)
		},
	}
}

func newImportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace every rule with an exported rule map (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			var m rule.Map
			if err := json.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("import: %w", err)
			}

			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveRuleMap(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d hostnames\n", len(m))
			return nil
		},
	}
}

func newDebugCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:       "debug on|off",
		Short:     "Switch debug logging in every page of the daemon",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.SetDebug(cmd.Context(), args[0] == "on")
		},
	}
}

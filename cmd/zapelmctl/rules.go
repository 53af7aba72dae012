package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/zapelm/rule"
)

func newRulesCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and edit rules",
	}
	cmd.AddCommand(
		newRulesListCmd(open),
		newRulesAddCmd(open),
		newRulesUpdateCmd(open),
		newRulesDeleteCmd(open),
	)
	return cmd
}

func newRulesListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list [hostname]",
		Short: "List rules, for one hostname or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			m := rule.Map{}
			if len(args) == 1 {
				rules, err := st.GetRulesForHostname(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(rules) > 0 {
					m[args[0]] = rules
				}
			} else if m, err = st.LoadRuleMap(cmd.Context()); err != nil {
				return err
			}

			hosts := make([]string, 0, len(m))
			for h := range m {
				hosts = append(hosts, h)
			}
			sort.Strings(hosts)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOSTNAME\tID\tSELECTOR\tACTION\tMODE\tENABLED")
			for _, h := range hosts {
				for _, r := range m[h] {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", h, r.ID, r.Selector, r.Action, r.ApplyMode, r.Enabled)
				}
			}
			return tw.Flush()
		},
	}
}

func newRulesAddCmd(open opener) *cobra.Command {
	var (
		action   string
		mode     string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add <hostname> <selector>",
		Short: "Add a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rule.ParseAction(action)
			if err != nil {
				return err
			}
			m, err := rule.ParseApplyMode(mode)
			if err != nil {
				return err
			}
			in := rule.Input{Selector: args[1], Action: a, ApplyMode: m, Enabled: !disabled}
			if err := in.Validate(); err != nil {
				return err
			}

			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			host := args[0]
			rules, err := st.GetRulesForHostname(cmd.Context(), host)
			if err != nil {
				return err
			}
			r := rule.New(in, rule.DefaultGenerator, time.Now())
			if err := st.SetRulesForHostname(cmd.Context(), host, append(rules, r)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "hide", "hide or remove")
	cmd.Flags().StringVar(&mode, "mode", "immediate", "immediate or observe")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the rule disabled")
	return cmd
}

func newRulesUpdateCmd(open opener) *cobra.Command {
	var (
		selector string
		action   string
		mode     string
		enabled  bool
	)
	cmd := &cobra.Command{
		Use:   "update <hostname> <id>",
		Short: "Change fields of a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p rule.Patch
			flags := cmd.Flags()
			if flags.Changed("selector") {
				if err := (rule.Input{Selector: selector}).Validate(); err != nil {
					return err
				}
				p.Selector = &selector
			}
			if flags.Changed("action") {
				a, err := rule.ParseAction(action)
				if err != nil {
					return err
				}
				p.Action = &a
			}
			if flags.Changed("mode") {
				m, err := rule.ParseApplyMode(mode)
				if err != nil {
					return err
				}
				p.ApplyMode = &m
			}
			if flags.Changed("enabled") {
				p.Enabled = &enabled
			}

			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			host, id := args[0], args[1]
			rules, err := st.GetRulesForHostname(cmd.Context(), host)
			if err != nil {
				return err
			}
			i := rule.Find(rules, id)
			if i < 0 {
				return fmt.Errorf("%w: %s", rule.ErrNotFound, id)
			}
			rules[i] = rules[i].Apply(p, time.Now())
			return st.SetRulesForHostname(cmd.Context(), host, rules)
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "new CSS selector")
	cmd.Flags().StringVar(&action, "action", "", "hide or remove")
	cmd.Flags().StringVar(&mode, "mode", "", "immediate or observe")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable or disable the rule")
	return cmd
}

func newRulesDeleteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <hostname> <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			host, id := args[0], args[1]
			rules, err := st.GetRulesForHostname(cmd.Context(), host)
			if err != nil {
				return err
			}
			i := rule.Find(rules, id)
			if i < 0 {
				return fmt.Errorf("%w: %s", rule.ErrNotFound, id)
			}
			rules = append(rules[:i], rules[i+1:]...)
			return st.SetRulesForHostname(cmd.Context(), host, rules)
		},
	}
}

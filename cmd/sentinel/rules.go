package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect exception rules",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a rule file against the schema and list its rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := rules.LoadFile(args[0])
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.RedString("✗"), args[0])
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d rules\n", color.GreenString("✓"), args[0], len(rs))
		printRules(cmd, rs)
		return nil
	},
}

var rulesDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "List the built-in rules",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printRules(cmd, rules.Defaults())
	},
}

func printRules(cmd *cobra.Command, rs []domain.Rule) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	for _, r := range rs {
		actions := make([]string, len(r.AutoActions))
		for i, a := range r.AutoActions {
			actions[i] = string(a)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-22s %s  %s\n", cyan(r.ID), severityColor(r.Severity), strings.Join(actions, ","))
	}
}

func severityColor(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case domain.SeverityHigh:
		return color.RedString(string(s))
	case domain.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesDefaultsCmd)
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/policy"
)

var rulesPoliciesDir string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect severity rules",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [PATH]",
	Short: "Check that a rule file loads and compiles",
	Long: `Validate a YAML rule file and every Rego policy it references.
Without PATH the embedded default rules are checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesValidate,
}

var rulesListCmd = &cobra.Command{
	Use:   "list [PATH]",
	Short: "Print rules in evaluation order",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesList,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd, rulesListCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesPoliciesDir, "policies", "", "Directory holding Rego policies")
}

func loadTable(cmd *cobra.Command, args []string) (*policy.Table, error) {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	return policy.LoadRules(cmd.Context(), path, rulesPoliciesDir)
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	table, err := loadTable(cmd, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", table.Source(), len(table.Rules()))
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	table, err := loadTable(cmd, args)
	if err != nil {
		return err
	}
	printRules(cmd.OutOrStdout(), table)
	return nil
}

func printRules(w io.Writer, table *policy.Table) {
	fmt.Fprintf(w, "Rules from %s (security-sensitive paths are always CRITICAL and checked first)\n\n", table.Source())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tSEVERITY\tTYPES\tKINDS\tPATHS")
	for i, r := range table.Rules() {
		severity := string(r.Severity)
		if r.Policy != "" {
			severity = "rego:" + r.Policy
		}
		kinds := make([]string, 0, len(r.ChangeKinds))
		for _, k := range r.ChangeKinds {
			kinds = append(kinds, string(k))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, r.Name, severity, orAny(r.ResourceTypes), orAny(kinds), orAny(r.Paths))
	}
	_ = tw.Flush()
}

func orAny(values []string) string {
	if len(values) == 0 {
		return "*"
	}
	return strings.Join(values, ",")
}

package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vigil-systems/vigil/internal/config"
	"github.com/vigil-systems/vigil/internal/rules"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and all rule files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "vigil.yaml", "path to the config file")
	return cmd
}

func runCheck(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		color.Red("✗ config: %v", err)
		return fmt.Errorf("config check failed")
	}
	color.Green("✓ config: %s", cfgPath)

	set, err := rules.LoadFiles(cfg.RuleFiles)
	if err != nil {
		color.Red("✗ rules: %v", err)
		return fmt.Errorf("rule check failed")
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Rules (%d):\n", len(set.Rules))
	for _, r := range set.Rules {
		sustain := "immediate"
		if r.For > 0 {
			sustain = fmt.Sprintf("for %s", r.For)
		}
		color.Green("  ✓ %-30s %s  [%s, %s]", r.Name, r.Expr.String(), r.Severity, sustain)
	}

	fmt.Printf("\n%d notifier(s), evaluation every %s\n", len(cfg.Notifiers), cfg.Evaluation.Interval)
	return nil
}

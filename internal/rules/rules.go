package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigil-systems/vigil/pkg/types"
)

// Rule is one loaded alert rule. Immutable once loaded.
type Rule struct {
	Name        string
	Expr        *Expr
	For         time.Duration
	Severity    types.Severity
	Annotations map[string]string
}

// RuleSet is an immutable collection of rules, loaded all-or-nothing.
type RuleSet struct {
	Rules []*Rule
}

// ruleFile is the YAML shape of a rule file.
type ruleFile struct {
	Rules []types.RuleConfig `yaml:"rules"`
}

// Parse builds a RuleSet from YAML rule-file contents. Any invalid rule
// (bad expression, bad duration, missing name, unknown severity, duplicate
// name) fails the whole parse with ErrInvalidRuleSet.
func Parse(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	return build(rf.Rules)
}

// LoadFiles reads every path (globs allowed) and merges the results into one
// RuleSet. Duplicate names across files fail the load.
func LoadFiles(patterns []string) (*RuleSet, error) {
	var configs []types.RuleConfig
	for _, pattern := range patterns {
		paths, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad rule file pattern %q: %v", ErrInvalidRuleSet, pattern, err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w: rule file pattern %q matched nothing", ErrInvalidRuleSet, pattern)
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidRuleSet, path, err)
			}
			var rf ruleFile
			if err := yaml.Unmarshal(data, &rf); err != nil {
				return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidRuleSet, path, err)
			}
			configs = append(configs, rf.Rules...)
		}
	}
	return build(configs)
}

func build(configs []types.RuleConfig) (*RuleSet, error) {
	set := &RuleSet{}
	seen := make(map[string]bool, len(configs))

	for i, rc := range configs {
		if rc.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRuleSet, i)
		}
		if seen[rc.Name] {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidRuleSet, ErrDuplicateRule, rc.Name)
		}
		seen[rc.Name] = true

		expr, err := ParseExpr(rc.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %w", ErrInvalidRuleSet, rc.Name, err)
		}

		var sustain time.Duration
		if rc.For != "" {
			sustain, err = time.ParseDuration(rc.For)
			if err != nil || sustain < 0 {
				return nil, fmt.Errorf("%w: rule %q: bad for duration %q", ErrInvalidRuleSet, rc.Name, rc.For)
			}
		}

		severity := rc.Severity
		if severity == "" {
			severity = types.SeverityWarning
		}
		if !severity.Valid() {
			return nil, fmt.Errorf("%w: rule %q: unknown severity %q", ErrInvalidRuleSet, rc.Name, rc.Severity)
		}

		set.Rules = append(set.Rules, &Rule{
			Name:        rc.Name,
			Expr:        expr,
			For:         sustain,
			Severity:    severity,
			Annotations: rc.Annotations,
		})
	}
	return set, nil
}

// MaxWindow returns the largest rate() window across the set; zero when no
// rule uses rate(). The engine sizes its rolling history from this.
func (s *RuleSet) MaxWindow() time.Duration {
	var max time.Duration
	for _, r := range s.Rules {
		if r.Expr.Fn == FuncRate && r.Expr.Window > max {
			max = r.Expr.Window
		}
	}
	return max
}

// RateSelectors returns the distinct selectors used by rate() expressions,
// keyed by Selector.Key.
func (s *RuleSet) RateSelectors() map[string]Selector {
	sels := make(map[string]Selector)
	for _, r := range s.Rules {
		if r.Expr.Fn == FuncRate {
			sels[r.Expr.Selector.Key()] = r.Expr.Selector
		}
	}
	return sels
}

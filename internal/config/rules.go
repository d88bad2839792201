package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExitRule holds the stop-loss/take-profit percentages for one risk level.
// Agents without explicit overrides fall back to the rule for their level.
type ExitRule struct {
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
}

// ExitRules maps agent risk levels (1 conservative .. 5 aggressive) to rules.
type ExitRules struct {
	Levels map[int]ExitRule `yaml:"levels"`
}

// DefaultExitRules returns the compiled-in rule table. Conservative agents
// cut losses early and take profit early; aggressive agents ride longer.
func DefaultExitRules() *ExitRules {
	return &ExitRules{
		Levels: map[int]ExitRule{
			1: {StopLossPercent: 2, TakeProfitPercent: 4},
			2: {StopLossPercent: 3, TakeProfitPercent: 6},
			3: {StopLossPercent: 5, TakeProfitPercent: 10},
			4: {StopLossPercent: 8, TakeProfitPercent: 16},
			5: {StopLossPercent: 12, TakeProfitPercent: 25},
		},
	}
}

// LoadExitRules reads the YAML rule table at path. An empty path or a
// missing file yields the compiled-in defaults; a malformed file is an error.
func LoadExitRules(path string) (*ExitRules, error) {
	if path == "" {
		return DefaultExitRules(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultExitRules(), nil
		}
		return nil, fmt.Errorf("failed to read exit rules file: %w", err)
	}

	var rules ExitRules
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse exit rules file: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return &rules, nil
}

// ForLevel returns the rule for a risk level, clamping out-of-range levels
// into [1,5] first.
func (r *ExitRules) ForLevel(level int) ExitRule {
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}
	if rule, ok := r.Levels[level]; ok {
		return rule
	}
	// Gap in a custom table: fall back to the moderate default
	return DefaultExitRules().Levels[3]
}

// Validate checks the rule table for usable values.
func (r *ExitRules) Validate() error {
	if len(r.Levels) == 0 {
		return fmt.Errorf("exit rules define no levels")
	}
	for level, rule := range r.Levels {
		if level < 1 || level > 5 {
			return fmt.Errorf("exit rule level %d outside [1,5]", level)
		}
		if rule.StopLossPercent <= 0 {
			return fmt.Errorf("exit rule level %d: stop_loss_percent must be positive", level)
		}
		if rule.TakeProfitPercent <= 0 {
			return fmt.Errorf("exit rule level %d: take_profit_percent must be positive", level)
		}
	}
	return nil
}

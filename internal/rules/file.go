package rules

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"fleet-monitor/sentinel/internal/domain"
)

//go:embed schema.cue
var schemaSource string

type fileCondition struct {
	Kind      ConditionKind `yaml:"kind"`
	Threshold *float64      `yaml:"threshold"`
}

type fileRule struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Priority    int                 `yaml:"priority"`
	Severity    domain.Severity     `yaml:"severity"`
	Notify      []domain.Channel    `yaml:"notify"`
	AutoActions []domain.ActionKind `yaml:"auto_actions"`
	Message     domain.Message      `yaml:"message"`
	Condition   fileCondition       `yaml:"condition"`
}

type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

// LoadFile reads, validates and builds the rule set at path.
func LoadFile(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the rule schema and builds the rules
// in file order.
func Parse(name string, data []byte) ([]domain.Rule, error) {
	if err := Validate(name, data); err != nil {
		return nil, err
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}

	seen := make(map[string]bool, len(rf.Rules))
	out := make([]domain.Rule, 0, len(rf.Rules))
	for _, fr := range rf.Rules {
		if seen[fr.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", fr.ID)
		}
		seen[fr.ID] = true

		threshold := defaultThreshold(fr.Condition.Kind)
		if fr.Condition.Threshold != nil {
			threshold = *fr.Condition.Threshold
		}
		cond, err := BuildCondition(fr.Condition.Kind, threshold)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", fr.ID, err)
		}

		out = append(out, domain.Rule{
			ID:          fr.ID,
			Name:        fr.Name,
			Priority:    fr.Priority,
			Severity:    fr.Severity,
			Targets:     fr.Notify,
			AutoActions: fr.AutoActions,
			Message:     fr.Message,
			Condition:   cond,
		})
	}
	return out, nil
}

// Validate checks data against the embedded CUE schema.
func Validate(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile rule schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("parse rule file: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build rule file: %w", err)
	}

	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("rule file validation failed: %w", err)
	}
	return nil
}

func defaultThreshold(kind ConditionKind) float64 {
	switch kind {
	case KindGPSOffline:
		return DefaultGPSOfflineSeconds
	case KindLongStop:
		return DefaultLongStopSeconds
	case KindRouteDeviation:
		return DefaultRouteDeviationM
	case KindETADelay:
		return DefaultETADelaySeconds
	case KindSpeeding:
		return DefaultSpeedingMarginKmh
	default:
		return 0
	}
}

// Load returns the rules at path, or the built-in defaults when path
// is empty.
func Load(path string) ([]domain.Rule, error) {
	if path == "" {
		return Defaults(), nil
	}
	return LoadFile(path)
}

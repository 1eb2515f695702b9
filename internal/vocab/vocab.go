package vocab

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary holds the rule tables shared by the normalizer and the report
// generator. A Vocabulary is treated as read-only once built.
type Vocabulary struct {
	Version        string              `yaml:"version" json:"version"`
	ForbiddenTerms []string            `yaml:"forbidden_terms" json:"forbidden_terms"`
	RiskActions    map[string][]string `yaml:"risk_actions" json:"risk_actions"`
	RiskMessages   map[string]string   `yaml:"risk_messages" json:"risk_messages"`
}

// Default returns the built-in vocabulary.
func Default() Vocabulary {
	return Vocabulary{
		Version: "1",
		ForbiddenTerms: []string{
			"prescribe",
			"diagnose",
			"start insulin",
			"start metformin",
			"you should",
			"do surgery",
			"operate",
		},
		RiskActions: map[string][]string{
			"single seeing eye":      {"Urgent ophthalmology review", "Warn about vision preservation"},
			"long-standing diabetes": {"Detailed retinal examination", "Optimize blood glucose control"},
			"poor glycemic control":  {"Optimize blood glucose control", "Consider HbA1c recheck & diabetes clinic referral"},
		},
		RiskMessages: map[string]string{
			"poor glycemic control":  "Poor glycemic control noted; consider tighter glucose control.",
			"long-standing diabetes": "Long-standing diabetes noted; check for chronic complications.",
			"single seeing eye":      "Single-seeing eye detected; prioritize protecting vision.",
		},
	}
}

// Load reads a vocabulary from a YAML file. An empty path yields Default.
// Tables missing from the file are taken from Default.
func Load(path string) (Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes and validates a YAML vocabulary document.
func Parse(content []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(content, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary: %w", err)
	}

	def := Default()
	if v.ForbiddenTerms == nil {
		v.ForbiddenTerms = def.ForbiddenTerms
	}
	if v.RiskActions == nil {
		v.RiskActions = def.RiskActions
	}
	if v.RiskMessages == nil {
		v.RiskMessages = def.RiskMessages
	}
	if err := v.Validate(); err != nil {
		return Vocabulary{}, err
	}
	return v, nil
}

// Validate rejects blank forbidden terms, risks mapped to no actions and
// blank risk messages.
func (v Vocabulary) Validate() error {
	for i, t := range v.ForbiddenTerms {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("vocabulary: forbidden_terms[%d] is empty", i)
		}
	}
	for _, risk := range sortedKeys(v.RiskActions) {
		actions := v.RiskActions[risk]
		if len(actions) == 0 {
			return fmt.Errorf("vocabulary: risk %q has no actions", risk)
		}
		for i, a := range actions {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("vocabulary: risk %q action %d is empty", risk, i)
			}
		}
	}
	for risk, msg := range v.RiskMessages {
		if strings.TrimSpace(msg) == "" {
			return fmt.Errorf("vocabulary: risk %q has an empty message", risk)
		}
	}
	return nil
}

// Actions returns the follow-up actions for a risk flag.
func (v Vocabulary) Actions(risk string) ([]string, bool) {
	a, ok := v.RiskActions[risk]
	return a, ok
}

// Message returns the report sentence for a risk flag, or the flag itself
// when no sentence is configured.
func (v Vocabulary) Message(risk string) string {
	if m, ok := v.RiskMessages[risk]; ok {
		return m
	}
	return risk
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

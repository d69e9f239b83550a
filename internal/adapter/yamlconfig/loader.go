// Package yamlconfig loads and validates audit plan documents.
package yamlconfig

import (
	"fmt"
	"os"

	"bytemomo/remora/internal/domain"

	"gopkg.in/yaml.v3"
)

// LoadPlan reads one audit plan from path. The returned plan is validated;
// policy defaults are NOT applied here (callers merge via EffectivePolicy).
func LoadPlan(path string) (*domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(data)
}

// ParsePlan unmarshals and validates a plan document.
func ParsePlan(data []byte) (*domain.Plan, error) {
	var plan domain.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

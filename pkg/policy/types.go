package policy

import (
	"time"

	"github.com/openfroyo/topd/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but never blocks a fragment.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the fragment.
	SeverityError Severity = "error"

	// SeverityCritical rejects the fragment.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a fragment.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the deny
	// set of the module's package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Source is the fragment file that violated the policy.
	Source string `json:"source"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Match is the offending match pattern, if the policy names one.
	Match string `json:"match,omitempty"`
}

func (v PolicyViolation) String() string {
	if v.Match != "" {
		return v.Policy + ": " + v.Match + ": " + v.Message
	}
	return v.Policy + ": " + v.Message
}

// PolicyResult represents the result of evaluating one fragment.
type PolicyResult struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and evaluation failures.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PolicyInput is the document policies see as input.
type PolicyInput struct {
	Environment string       `json:"environment"`
	Namespace   string       `json:"namespace"`
	Source      string       `json:"source"`
	Entries     []InputEntry `json:"entries"`
}

// InputEntry is one match entry of the fragment under evaluation.
type InputEntry struct {
	Match   string   `json:"match"`
	Type    string   `json:"type"`
	Targets []string `json:"targets"`
}

// NewPolicyInput builds the policy input for a canonical fragment.
func NewPolicyInput(f *engine.Fragment) *PolicyInput {
	input := &PolicyInput{
		Environment: f.Environment,
		Namespace:   string(f.Namespace),
		Source:      f.Source,
		Entries:     make([]InputEntry, 0, len(f.Entries)),
	}
	for _, e := range f.Entries {
		targets := e.Targets
		if targets == nil {
			targets = []string{}
		}
		input.Entries = append(input.Entries, InputEntry{
			Match:   e.Match.Pattern,
			Type:    string(e.Match.Type),
			Targets: targets,
		})
	}
	return input
}

package policy

import (
	"time"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
)

// Policy is a Rego module whose deny rule vetoes submission.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that carry none.
	Severity engine.Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine. They survive reloads.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one deny entry.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Instance is the instance path the entry points at, if any.
	Instance string `json:"instance,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity engine.Severity `json:"severity"`
}

// AsMessage converts the violation to a validation message.
func (v Violation) AsMessage() engine.Message {
	return engine.Message{
		Text:      v.Message,
		Severity:  v.Severity,
		Instance:  v.Instance,
		Directive: "policy:" + v.Policy,
	}
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Submittable is false when any violation has Error severity.
	Submittable bool `json:"submittable"`

	// Violations lists deny entries in policy name order.
	Violations []Violation `json:"violations,omitempty"`

	// Messages are the violations as validation messages.
	Messages []engine.Message `json:"messages,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	// SessionID identifies the evaluated session.
	SessionID string `json:"session_id,omitempty"`

	// State is the terminal controller state.
	State engine.ControllerState `json:"state"`

	// Snapshot is the configuration tree.
	Snapshot *graph.InstanceSnapshot `json:"snapshot"`

	// Messages are the engine messages in evaluation order.
	Messages []engine.Message `json:"messages"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

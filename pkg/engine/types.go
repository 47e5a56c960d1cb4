package engine

import (
	"fmt"
	"strings"
)

// Severity is the severity of a validation message.
type Severity string

const (
	// SeverityWarning is advisory and never blocks submission.
	SeverityWarning Severity = "Warning"

	// SeverityError blocks session finalization but not evaluation.
	SeverityError Severity = "Error"
)

// ParseSeverity parses a severity name case-insensitively.
// Unknown names yield an error; an empty name is treated as Warning.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Message is a validation message attached to an instance.
type Message struct {
	// Text is the human-readable message text.
	Text string `json:"text"`

	// Severity is the message severity.
	Severity Severity `json:"severity"`

	// Instance is the path of the originating instance.
	Instance string `json:"instance"`

	// Directive identifies the directive that produced the message, if any.
	Directive string `json:"directive,omitempty"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s [%s]", m.Severity, m.Text, m.Instance)
}

// ControllerState is the state of the fixpoint/backtracking controller.
type ControllerState string

const (
	// StateIdle means no evaluation has run since the last mutation.
	StateIdle ControllerState = "Idle"

	// StateEvaluating means passes are in progress.
	StateEvaluating ControllerState = "Evaluating"

	// StateStable means a pass changed nothing (terminal, success).
	StateStable ControllerState = "Stable"

	// StateAborted means an abort constraint failed (terminal, failure).
	StateAborted ControllerState = "Aborted"

	// StateBacktrackExhausted means pass or backtrack bounds were exceeded
	// (terminal, failure).
	StateBacktrackExhausted ControllerState = "BacktrackExhausted"
)

// IsTerminal returns true if the state ends an evaluation.
func (s ControllerState) IsTerminal() bool {
	switch s {
	case StateStable, StateAborted, StateBacktrackExhausted:
		return true
	}
	return false
}

// IsFailure returns true for the terminal failure states.
func (s ControllerState) IsFailure() bool {
	return s == StateAborted || s == StateBacktrackExhausted
}

// CreationSource records who asked for an instance to be created.
type CreationSource string

const (
	// SourceUser is an explicit external edit.
	SourceUser CreationSource = "user"

	// SourceRequire is a require directive.
	SourceRequire CreationSource = "require"

	// SourceSeed is mandatory seeding at minimum cardinality.
	SourceSeed CreationSource = "seed"

	// SourceSpeculative is a backtracking repair attempt.
	SourceSpeculative CreationSource = "speculative"

	// SourceDerivation is aggregate or derivation computation.
	SourceDerivation CreationSource = "derivation"
)

// EngineInitiated returns true for sources that closeRelation refuses.
func (s CreationSource) EngineInitiated() bool {
	return s == SourceSpeculative || s == SourceDerivation
}

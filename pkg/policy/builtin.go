package policy

import (
	"github.com/openfroyo/configurator/pkg/engine"
)

// BuiltinErrorBlock vetoes submission while Error messages exist.
const BuiltinErrorBlock = "error-messages-block-submission"

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		errorMessagesPolicy(),
		stableStatePolicy(),
		hiddenValuesPolicy(),
	}
}

// errorMessagesPolicy blocks submission when the engine raised Error messages.
func errorMessagesPolicy() Policy {
	return Policy{
		Name:        BuiltinErrorBlock,
		Description: "Error-severity validation messages block submission",
		Severity:    engine.SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"messages", "submission"},
		Rego: `package cfgr.policies.submission

import rego.v1

error_messages := [m | some m in input.messages; m.severity == "Error"]

deny contains violation if {
	count(error_messages) > 0
	violation := {
		"message": sprintf("%d error message(s) block submission", [count(error_messages)]),
		"severity": "Error",
	}
}`,
	}
}

// stableStatePolicy blocks submission of failed evaluations.
func stableStatePolicy() Policy {
	return Policy{
		Name:        "stable-state",
		Description: "Only stable configurations can be submitted",
		Severity:    engine.SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"state", "submission"},
		Rego: `package cfgr.policies.state

import rego.v1

deny contains violation if {
	input.state != "Stable"
	violation := {
		"message": sprintf("configuration is %s", [input.state]),
		"severity": "Error",
	}
}`,
	}
}

// hiddenValuesPolicy warns about attributes holding a value a rule hides.
func hiddenValuesPolicy() Policy {
	return Policy{
		Name:        "hidden-values",
		Description: "Warns when an attribute holds a domain value hidden by a rule",
		Severity:    engine.SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"visibility"},
		Rego: `package cfgr.policies.hidden

import rego.v1

deny contains violation if {
	walk(input.snapshot, [_, node])
	is_object(node)
	node.path
	some attr, hidden in node.hiddenValues
	some v in hidden
	node.attributes[attr] == v
	violation := {
		"message": sprintf("%s.%s holds hidden value %v", [node.path, attr, v]),
		"instance": node.path,
	}
}`,
	}
}

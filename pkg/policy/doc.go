// Package policy evaluates submission policies written in Rego against the
// outcome of a configuration session.
//
// # Overview
//
// A configuration that reached a terminal state may still be unfit for
// submission. Policies express those checks outside the model: each policy is
// a Rego v1 module whose deny rule yields strings or objects, and every entry
// becomes a validation message. A result is submittable while no entry has
// Error severity.
//
// # Input Document
//
// Policies see the session result as input:
//
//	{
//	  "session_id": "…",
//	  "state": "Stable",
//	  "snapshot": {"path": "Policy", "type": "Policy", "attributes": {...}, "relations": {...}},
//	  "messages": [{"text": "…", "severity": "Error", "instance": "Policy"}],
//	  "timestamp": "…"
//	}
//
// # Writing Policies
//
//	# severity: Error
//	# tags: fleet
//	# Limits the number of vehicles per policy.
//	package cfgr.policies.fleet
//
//	import rego.v1
//
//	deny contains violation if {
//	    count(input.snapshot.relations.vehicles) > 2
//	    violation := {"message": "at most two vehicles", "instance": "Policy"}
//	}
//
// The severity header sets the default for entries that carry none.
// Object entries may set message (or msg), severity and instance.
//
// # Built-in Policies
//
//   - error-messages-block-submission: Error messages veto submission
//   - stable-state: failed evaluations cannot be submitted
//   - hidden-values: warns when an attribute holds a hidden domain value
//
// Built-ins can be disabled but not replaced by loaded policies.
//
// # Loading and Watching
//
// Policies load from .rego files, JSON policy definitions and directories of
// both. Engine.Watch reloads them through fsnotify; a reload that fails to
// compile leaves the previous set in place.
package policy

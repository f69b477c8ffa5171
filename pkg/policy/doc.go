// Package policy provides Open Policy Agent (OPA) admission checks for top
// fragments.
//
// Every canonical fragment is evaluated before it is merged. A policy is a
// Rego module; its violations are the members of the deny set in the
// module's own package. The input document is:
//
//	{
//	  "environment": "base",
//	  "namespace": "state",
//	  "source": "/srv/salt/_tops/base/web.top",
//	  "entries": [
//	    {"match": "web*", "type": "glob", "targets": ["nginx"]}
//	  ]
//	}
//
// A deny member is either a message string or an object with "message",
// and optionally "severity" and "match". Violations with severity error or
// critical reject the fragment with an engine.PolicyViolationError; lower
// severities are logged as warnings.
//
// # Usage
//
//	eng := policy.NewEngine(logger)
//	if err := eng.LoadBuiltins(ctx); err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/topd/policies"}); err != nil {
//	    return err
//	}
//	if err := eng.Check(ctx, fragment); err != nil {
//	    return err
//	}
//
// A custom policy:
//
//	package site.tops
//
//	import rego.v1
//
//	deny contains msg if {
//	    some entry in input.entries
//	    entry.type == "compound"
//	    msg := sprintf("compound match %s needs review", [entry.match])
//	}
//
// # Built-in Policies
//
//   - target-naming (error): targets must be SLS names without whitespace,
//     leading slash or "..".
//   - wildcard-scope (warning): wildcard matches outside the base environment.
//   - regex-breadth (warning): PCRE matches equivalent to the wildcard.
//
// Policy files loaded from paths can be watched with Engine.Watch, which
// reloads them after a burst of filesystem changes settles.
package policy

package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		targetNamingPolicy(),
		wildcardScopePolicy(),
		regexBreadthPolicy(),
	}
}

// targetNamingPolicy rejects target names that cannot be SLS names.
func targetNamingPolicy() Policy {
	return Policy{
		Name:        "target-naming",
		Description: "Targets must be SLS names without whitespace, path escapes or absolute paths",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		Rego: `package topd.builtin.naming

import rego.v1

deny contains violation if {
	some entry in input.entries
	some target in entry.targets
	regex.match("\\s", target)
	violation := {
		"message": sprintf("target '%s' contains whitespace", [target]),
		"match": entry.match,
	}
}

deny contains violation if {
	some entry in input.entries
	some target in entry.targets
	startswith(target, "/")
	violation := {
		"message": sprintf("target '%s' is an absolute path", [target]),
		"match": entry.match,
	}
}

deny contains violation if {
	some entry in input.entries
	some target in entry.targets
	contains(target, "..")
	violation := {
		"message": sprintf("target '%s' escapes the file root", [target]),
		"match": entry.match,
	}
}
`,
	}
}

// wildcardScopePolicy flags fragments outside the base environment that add
// targets for every minion.
func wildcardScopePolicy() Policy {
	return Policy{
		Name:        "wildcard-scope",
		Description: "Wildcard matches outside the base environment apply to every minion",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"scope"},
		Rego: `package topd.builtin.scope

import rego.v1

deny contains violation if {
	input.environment != "base"
	some entry in input.entries
	entry.type == "wildcard"
	count(entry.targets) > 0
	violation := {
		"message": sprintf("wildcard match in environment '%s' targets every minion", [input.environment]),
		"match": entry.match,
	}
}
`,
	}
}

// regexBreadthPolicy flags regular expressions that match everything.
func regexBreadthPolicy() Policy {
	return Policy{
		Name:        "regex-breadth",
		Description: "PCRE matches equivalent to the wildcard should use '*'",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"matching"},
		Rego: `package topd.builtin.regex

import rego.v1

catch_all := {".*", "^.*$", ".+", "^.+$", "^.*", ".*$"}

deny contains violation if {
	some entry in input.entries
	entry.type == "pcre"
	entry.match in catch_all
	violation := {
		"message": "regular expression matches every minion, use '*' instead",
		"match": entry.match,
	}
}
`,
	}
}

package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		identifierPolicy(),
		archiveIsolationPolicy(),
	}
}

// identifierPolicy rejects names the loader cannot look up.
func identifierPolicy() Policy {
	return Policy{
		Name:        "deployment-identifier",
		Description: "Identifier names must be non-empty and contain no whitespace",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package scripthost.admission.identifier

import rego.v1

deny contains violation if {
	input.deployment.name == ""
	violation := {
		"message": sprintf("identifier %s has an empty name", [input.deployment.identifier]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.deployment.name
	regex.match("\\s", name)
	violation := {
		"message": sprintf("identifier name '%s' must not contain whitespace", [name]),
		"severity": "error",
	}
}
`,
	}
}

// archiveIsolationPolicy warns about archives deployed with a shared loader,
// which node projects refuse.
func archiveIsolationPolicy() Policy {
	return Policy{
		Name:        "archive-isolation",
		Description: "Archive deployments should request an isolating loader",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package scripthost.admission.isolation

import rego.v1

deny contains violation if {
	input.deployment.archive
	not input.deployment.isolated
	violation := {
		"message": sprintf("archive %s is deployed with a shared loader and will not be extracted", [input.deployment.name]),
		"severity": "warning",
	}
}
`,
	}
}

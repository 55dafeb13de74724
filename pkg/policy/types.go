package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the deployment.
	SeverityError Severity = "error"

	// SeverityCritical blocks the deployment.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is an admission rule written in Rego. The module must define a
// deny set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the host.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny result.
type Violation struct {
	Policy     string   `json:"policy"`
	Identifier string   `json:"identifier"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Deployment DeploymentInput `json:"deployment"`
	Context    Context         `json:"context"`
}

// DeploymentInput describes the deployment under admission.
type DeploymentInput struct {
	Identifier string   `json:"identifier"`
	Prefix     string   `json:"prefix"`
	Name       string   `json:"name"`
	Archive    bool     `json:"archive"`
	Isolated   bool     `json:"isolated"`
	Classpath  []string `json:"classpath"`
}

// Context provides context information for policy evaluation.
type Context struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	Environment string    `json:"environment,omitempty"`
}

// DeniedError is returned by Admit when a blocking violation was found.
type DeniedError struct {
	Identifier string
	Result     *Result
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("deployment of %s denied by policy: %s", e.Identifier, strings.Join(msgs, "; "))
}

package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/loader"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

// Engine evaluates admission policies. It implements container.Admitter.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(tel *telemetry.Telemetry) (*Engine, error) {
	if tel == nil {
		tel = telemetry.NewNop()
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("policy-engine"),
	}

	ctx := context.Background()
	for _, p := range GetBuiltinPolicies() {
		cp, err := compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}

	e.logger.WithField("count", len(e.policies)).Debug("Built-in policies loaded")
	return e, nil
}

// Admit implements container.Admitter. Blocking violations yield a *DeniedError.
func (e *Engine) Admit(ctx context.Context, req container.AdmissionRequest) error {
	input := &Input{
		Deployment: DeploymentInput{
			Identifier: req.Identifier,
			Prefix:     req.Prefix,
			Name:       req.Name,
			Archive:    loader.IsArchiveName(req.Name),
			Isolated:   req.Options.Isolated,
			Classpath:  req.Options.Classpath,
		},
		Context: Context{
			Timestamp:   time.Now(),
			Operation:   "deploy",
			Environment: e.tel.Config.Environment,
		},
	}
	if input.Deployment.Classpath == nil {
		input.Deployment.Classpath = []string{}
	}

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.WithFields(map[string]interface{}{
			"policy":     w.Policy,
			"identifier": w.Identifier,
		}).Warn(w.Message)
	}

	if result.Allowed {
		return nil
	}

	denied := &DeniedError{Identifier: req.Identifier, Result: result}
	names := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		names = append(names, v.Policy)
	}
	e.tel.Metrics.RecordError("policy")
	_ = e.tel.Events.PublishPolicyDenied(req.Identifier, names, denied.Error())
	return denied
}

// Evaluate runs every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(compiled)),
	}

	for _, cp := range compiled {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			e.logger.WithError(err).
				WithField("policy", cp.policy.Name).
				Error("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:     cp.policy.Name,
				Identifier: input.Deployment.Identifier,
				Message:    fmt.Sprintf("evaluation failed: %v", err),
				Severity:   SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.WithFields(map[string]interface{}{
		"identifier": input.Deployment.Identifier,
		"violations": len(result.Violations),
		"warnings":   len(result.Warnings),
		"duration":   result.Duration.String(),
	}).Debug("Admission policy evaluation completed")

	return result, nil
}

// LoadPolicies loads policy files and directories, replacing previously
// loaded policies. Built-in policies are kept.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.tel.Logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// ReplacePolicies swaps the loaded policies for policies. Nothing changes
// when any of them fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	next := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		next[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, shadowed := next[name]; !shadowed {
				next[name] = cp
			}
		}
	}
	e.policies = next

	e.logger.WithField("count", len(policies)).Info("Policies loaded successfully")
	return nil
}

// compile parses p and prepares its deny query.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   &p,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// evaluate runs a single compiled policy.
func evaluate(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(p *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:     p.Name,
		Identifier: input.Deployment.Identifier,
		Severity:   p.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(strings.ToLower(sev))
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.WithField("policy", name).WithField("enabled", enabled).Info("Policy toggled")

	return nil
}

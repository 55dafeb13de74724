package policy

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(telemetry.NewNop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		if !p.Builtin {
			t.Errorf("policy %s should be built-in", p.Name)
		}
		names = append(names, p.Name)
	}

	want := []string{"archive-isolation", "deployment-identifier"}
	if !slices.Equal(names, want) {
		t.Errorf("ListPolicies() = %v, want %v", names, want)
	}
}

func TestAdmit(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name         string
		req          container.AdmissionRequest
		wantDenied   bool
		wantWarnings int
	}{
		{
			name: "isolated archive",
			req: container.AdmissionRequest{
				Identifier: "nodejs:http-server.zip",
				Prefix:     "nodejs",
				Name:       "http-server.zip",
				Options:    container.DeploymentOptions{Isolated: true},
			},
		},
		{
			name: "plain script",
			req: container.AdmissionRequest{
				Identifier: "js:main.js",
				Prefix:     "js",
				Name:       "main.js",
			},
		},
		{
			name: "empty name",
			req: container.AdmissionRequest{
				Identifier: "js:",
				Prefix:     "js",
			},
			wantDenied: true,
		},
		{
			name: "whitespace",
			req: container.AdmissionRequest{
				Identifier: "js:my script.js",
				Prefix:     "js",
				Name:       "my script.js",
			},
			wantDenied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Admit(t.Context(), tt.req)
			if !tt.wantDenied {
				if err != nil {
					t.Fatalf("Admit() error = %v", err)
				}
				return
			}

			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("Admit() error = %v, want *DeniedError", err)
			}
			if denied.Result.Allowed || len(denied.Result.Violations) == 0 {
				t.Errorf("unexpected result: %+v", denied.Result)
			}
			if denied.Result.Violations[0].Policy != "deployment-identifier" {
				t.Errorf("violation policy = %s", denied.Result.Violations[0].Policy)
			}
		})
	}
}

func TestEvaluateWarnings(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(t.Context(), &Input{
		Deployment: DeploymentInput{
			Identifier: "nodejs:http-server.zip",
			Prefix:     "nodejs",
			Name:       "http-server.zip",
			Archive:    true,
			Classpath:  []string{},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allowed {
		t.Fatalf("shared archive deployments are only warned about: %+v", result)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Policy != "archive-isolation" {
		t.Errorf("Warnings = %+v", result.Warnings)
	}
	if result.Warnings[0].Severity != SeverityWarning {
		t.Errorf("Severity = %s", result.Warnings[0].Severity)
	}
	if len(result.EvaluatedPolicies) != 2 {
		t.Errorf("EvaluatedPolicies = %v", result.EvaluatedPolicies)
	}
}

const denyScripts = `package scripthost.admission.custom

import rego.v1

# Plain scripts must be isolated.
deny contains violation if {
	input.deployment.prefix == "js"
	not input.deployment.isolated
	violation := {"message": "plain scripts must be isolated", "severity": "error"}
}
`

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := t.Context()
	req := container.AdmissionRequest{Identifier: "js:main.js", Prefix: "js", Name: "main.js"}

	custom := Policy{Name: "isolate-scripts", Rego: denyScripts, Severity: SeverityWarning, Enabled: true}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}

	err := eng.Admit(ctx, req)
	if err == nil || !strings.Contains(err.Error(), "plain scripts must be isolated") {
		t.Fatalf("Admit() error = %v, want custom denial", err)
	}

	t.Run("disable", func(t *testing.T) {
		if err := eng.DisablePolicy("isolate-scripts"); err != nil {
			t.Fatal(err)
		}
		if err := eng.Admit(ctx, req); err != nil {
			t.Errorf("Admit() after disable error = %v", err)
		}
		if err := eng.EnablePolicy("isolate-scripts"); err != nil {
			t.Fatal(err)
		}
		if err := eng.DisablePolicy("missing"); err == nil {
			t.Error("DisablePolicy() should fail for unknown policy")
		}
	})

	t.Run("compile failure keeps policies", func(t *testing.T) {
		broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {", Enabled: true}
		if err := eng.ReplacePolicies(ctx, []Policy{broken}); err == nil {
			t.Fatal("expected compile error")
		}
		if _, err := eng.GetPolicy("isolate-scripts"); err != nil {
			t.Errorf("previous policies lost: %v", err)
		}
	})

	t.Run("replace drops loaded policies but keeps builtins", func(t *testing.T) {
		if err := eng.ReplacePolicies(ctx, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.GetPolicy("isolate-scripts"); err == nil {
			t.Error("loaded policy should be gone")
		}
		if _, err := eng.GetPolicy("deployment-identifier"); err != nil {
			t.Errorf("built-in policy lost: %v", err)
		}
	})
}

func TestAdmitPublishesDenial(t *testing.T) {
	tel := telemetry.NewNop()
	eng, err := NewEngine(tel)
	if err != nil {
		t.Fatal(err)
	}

	var got []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) { got = append(got, e) },
		telemetry.FilterByType(telemetry.EventTypePolicyDenied))

	_ = eng.Admit(t.Context(), container.AdmissionRequest{Identifier: "js:a b", Prefix: "js", Name: "a b"})
	if len(got) != 1 {
		t.Fatalf("published %d denial events, want 1", len(got))
	}
	if got[0].Data["identifier"] != "js:a b" {
		t.Errorf("event data = %v", got[0].Data)
	}
}

package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/scripthost/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("script host started")

	// Output varies, no output specified
}

// Example_eventPublishing demonstrates subscribing to lifecycle events.
func Example_eventPublishing() {
	tel := telemetry.NewNop()
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishComponentStarted("dep-1", "server.js")
	_ = tel.Events.PublishScriptExited("dep-1", "server.js", 2, nil)
	_ = tel.Events.PublishScriptExited("dep-1", "server.js", 1, fmt.Errorf("boom"))

	// Output:
	// script.exited: Script server.js exited with code 2
	// script.faulted: Script server.js faulted: boom
}

// Example_instrumentedOperation demonstrates wrapping an operation with
// logging, tracing and timing.
func Example_instrumentedOperation() {
	tel := telemetry.NewNop()
	defer tel.Shutdown(context.Background())

	ic := tel.StartOperation(context.Background(), "resolve",
		telemetry.AttrFactory.String("nodejs"),
		telemetry.AttrIdentifier.String("nodejs:http-server.zip"),
	)

	time.Sleep(time.Millisecond)
	ic.Logger.Debug("resolving")
	tel.Metrics.RecordResolution("nodejs", "success", ic.Timer.Duration())
	fmt.Println(ic.Timer.Duration() >= time.Millisecond)
	ic.End(nil)

	// Output:
	// true
}

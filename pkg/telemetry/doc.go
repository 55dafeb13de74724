// Package telemetry provides observability instrumentation for the script host.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
// Factories, the extractor and the container all report through a single
// Telemetry value:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ic := tel.StartOperation(ctx, "deploy", telemetry.AttrIdentifier.String(id))
//	err = deploy(ic.Ctx)
//	ic.End(err)
//
// # Events
//
// Events describe lifecycle transitions: capability.disabled,
// resolution.failed, project.extracted, deployment.completed,
// deployment.failed, component.started, component.stopped, script.exited
// and script.faulted. With EnableAsync set they are buffered and delivered
// in publication order by a single goroutine; Shutdown drains the buffer.
//
// # Metrics
//
// Metric names are prefixed with the configured namespace (default
// "scripthost"), for example scripthost_resolutions_total and
// scripthost_components_active.
package telemetry

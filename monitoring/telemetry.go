// Package monitoring configures OpenTelemetry metrics with a Prometheus
// exporter and exposes counters for authorization decisions.
package monitoring

import (
	"context"
	"net/http"
	"sync"

	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	meterProvider       *sdkmetric.MeterProvider
	authzDecisionCount  metric.Int64Counter
	roleSwitchCount     metric.Int64Counter
	provisioningCount   metric.Int64Counter
	breakGlassUseCount  metric.Int64Counter
	initOnce            sync.Once
	httpHandler         http.Handler
)

// Config captures the minimal setup parameters for the service.
type Config struct {
	ServiceName string
}

// Setup configures OpenTelemetry metrics with a Prometheus exporter.
// Returns a shutdown function for graceful teardown.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "portal-backend"
	}

	var initErr error

	initOnce.Do(func() {
		exp, err := prometheus.New(prometheus.WithoutUnits())
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.Merge(
			resource.Default(),
			resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)),
		)
		if err != nil {
			initErr = err
			return
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exp),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(meterProvider)
		httpHandler = promhttp.Handler()

		meter := meterProvider.Meter(cfg.ServiceName)

		authzDecisionCount, err = meter.Int64Counter(
			"authz_decisions_total",
			metric.WithDescription("Total authorization gate decisions by gate and outcome"),
		)
		if err != nil {
			initErr = err
			return
		}

		roleSwitchCount, err = meter.Int64Counter(
			"role_switches_total",
			metric.WithDescription("Total role switch attempts by target role and outcome"),
		)
		if err != nil {
			initErr = err
			return
		}

		provisioningCount, err = meter.Int64Counter(
			"profile_provisioning_total",
			metric.WithDescription("Total lazy profile provisioning events"),
		)
		if err != nil {
			initErr = err
			return
		}

		breakGlassUseCount, err = meter.Int64Counter(
			"break_glass_uses_total",
			metric.WithDescription("Total break-glass token issuances and consumptions"),
		)
		if err != nil {
			initErr = err
			return
		}
	})

	if initErr != nil {
		return nil, initErr
	}

	return func(shutdownCtx context.Context) error {
		if meterProvider == nil {
			return nil
		}
		return meterProvider.Shutdown(shutdownCtx)
	}, nil
}

// Handler returns the Prometheus scrape handler, or nil if Setup has not run.
func Handler() http.Handler {
	return httpHandler
}

// RecordAuthzDecision records an authorization gate decision.
func RecordAuthzDecision(ctx context.Context, gate string, allowed bool) {
	if authzDecisionCount == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("gate", gate),
			attribute.String("outcome", outcome),
		))
}

// RecordRoleSwitch records a role switch attempt.
func RecordRoleSwitch(ctx context.Context, targetRole string, success bool) {
	if roleSwitchCount == nil {
		return
	}
	roleSwitchCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target_role", targetRole),
			attribute.Bool("success", success),
		))
}

// RecordProvisioning records a lazy profile provisioning event.
func RecordProvisioning(ctx context.Context, role string) {
	if provisioningCount == nil {
		return
	}
	provisioningCount.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordBreakGlassUse records break-glass token activity.
func RecordBreakGlassUse(ctx context.Context, action string) {
	if breakGlassUseCount == nil {
		return
	}
	breakGlassUseCount.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

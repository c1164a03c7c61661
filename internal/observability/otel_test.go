package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/go-dose-engine/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func enabled(name string) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_Disabled_NoOp(t *testing.T) {
	preserveOTelGlobals(t)
	prev := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, Deployment{Version: "v0"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup must not replace the provider")
	}
}

func TestSetupOTel_Enabled_SetsProvider(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		preserveOTelGlobals(t)
		cfg := enabled("dosed")
		cfg.Insecure = insecure

		shutdown, err := SetupOTel(context.Background(), cfg, Deployment{Version: "v1.2.3", Channel: "native"})
		if err != nil {
			t.Fatalf("insecure=%v: unexpected err: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("insecure=%v: expected *sdktrace.TracerProvider", insecure)
		}
		_, span := otel.Tracer("services/dose").Start(context.Background(), "Confirm")
		span.End()

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(ctx)
		cancel()
	}
}

func TestSetupOTel_ResourceCarriesDeployment(t *testing.T) {
	preserveOTelGlobals(t)

	orig := newResourceFn
	t.Cleanup(func() { newResourceFn = orig })

	var got []attribute.KeyValue
	newResourceFn = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		got = attrs
		return orig(ctx, attrs...)
	}

	shutdown, err := SetupOTel(context.Background(), enabled("dosed"), Deployment{Version: "v2", Channel: "web", UserID: "ana"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	want := map[attribute.Key]string{
		"service.name":          "dosed",
		"service.version":       "v2",
		"dose.delivery_channel": "web",
		"dose.user_id":          "ana",
	}
	for _, kv := range got {
		if v, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != v {
				t.Fatalf("%s = %q; want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing attributes: %v", want)
	}
}

func TestSetupOTel_ExporterError_GlobalsIntact(t *testing.T) {
	preserveOTelGlobals(t)

	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })
	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom-exporter")
	}

	prevTP := otel.GetTracerProvider()
	if _, err := SetupOTel(context.Background(), enabled("dosed"), Deployment{}); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if otel.GetTracerProvider() != prevTP {
		t.Fatalf("tracer provider changed on failure")
	}
}

func TestSetupOTel_ResourceError_GlobalsIntact(t *testing.T) {
	preserveOTelGlobals(t)

	orig := newResourceFn
	t.Cleanup(func() { newResourceFn = orig })
	newResourceFn = func(context.Context, ...attribute.KeyValue) (*resource.Resource, error) {
		return nil, errors.New("boom-resource")
	}

	prevTP := otel.GetTracerProvider()
	if _, err := SetupOTel(context.Background(), enabled("dosed"), Deployment{}); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if otel.GetTracerProvider() != prevTP {
		t.Fatalf("tracer provider changed on failure")
	}
}

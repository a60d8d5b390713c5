package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected non-nil tracer (noop)")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil meter (noop)")
	}
}

func TestInit_Disabled_ShutdownNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	if p.Tracer == nil {
		t.Fatal("expected non-nil Tracer")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil Meter")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "magic-pixie-dust",
	})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.BootDuration == nil || m.SyncDuration == nil || m.SyncStepFailures == nil {
		t.Fatalf("duration/failure instruments missing: %+v", m)
	}
	if m.RestoreAttempts == nil || m.AuthRecoveries == nil || m.GatewayStarts == nil || m.GatewayKills == nil {
		t.Fatalf("counter instruments missing: %+v", m)
	}
}

func TestStartSpan_NoopProvider(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), p.Tracer, "boot.restore", AttrBootPhase.String("restore"))
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil context or span")
	}
	span.End()

	ctx, span = StartServerSpan(context.Background(), p.Tracer, "control.status")
	if ctx == nil || span == nil {
		t.Fatal("StartServerSpan returned nil context or span")
	}
	span.End()
}

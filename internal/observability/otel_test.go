package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/crowvale/dutywatch/internal/config"
)

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if shutdown == nil {
		t.Fatal("nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupOTel_ExporterErrorPropagates(t *testing.T) {
	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })

	wantErr := errors.New("exporter boom")
	newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, wantErr
	}

	_, err := SetupOTel(context.Background(), config.OTELConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Insecure: true,
	}, "test")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want exporter error", err)
	}
}

func TestSetupOTel_ResourceErrorPropagates(t *testing.T) {
	origRes := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = origRes })

	wantErr := errors.New("resource boom")
	newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, wantErr
	}

	_, err := SetupOTel(context.Background(), config.OTELConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "dutywatch",
	}, "test")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want resource error", err)
	}
}

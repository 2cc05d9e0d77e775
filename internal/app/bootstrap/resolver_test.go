package bootstrap

import (
	"context"
	"testing"

	appconfig "github.com/conversahq/conversa-platform/internal/config"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

func TestBuildResolverRequiresConfig(t *testing.T) {
	if _, err := BuildResolver(context.Background(), nil, logging.New("error")); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestBuildResolverNoModelsReturnsNil(t *testing.T) {
	cfg := &appconfig.Config{}

	resolver, err := BuildResolver(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver != nil {
		t.Fatal("expected nil resolver when no model is configured")
	}
}

func TestBuildTelemetryAlwaysReturnsSink(t *testing.T) {
	sink := BuildTelemetry(nil, nil, logging.New("error"))
	if sink == nil {
		t.Fatal("expected telemetry sink")
	}
}

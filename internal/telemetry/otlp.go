package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func buildOTLPMetricExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{}
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		opts = append(opts, otlpmetrichttp.WithEndpointURL(endpoint))
	default:
		opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

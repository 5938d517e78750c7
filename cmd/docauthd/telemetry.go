package main

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrEthical07/docauth"
	otelexport "github.com/MrEthical07/docauth/metrics/export/otel"
)

const meterName = "github.com/MrEthical07/docauth"

// otlpTarget reduces endpoint to the host:port the gRPC exporter dials.
// Schemes other than https imply a plaintext connection.
func otlpTarget(endpoint string, forceInsecure bool) (target string, insecure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, oops.Code("CONFIG_INVALID").Errorf("metrics.otlp_endpoint is required for the otlp exporter")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, oops.Code("CONFIG_INVALID").With("endpoint", endpoint).Wrap(err)
	}
	if u.Host == "" {
		return "", false, oops.Code("CONFIG_INVALID").With("endpoint", endpoint).Errorf("otlp endpoint has no host")
	}
	return u.Host, forceInsecure || u.Scheme != "https", nil
}

// startMeterProvider exports the engine's metrics through every reader.
// The returned shutdown stops the exporter callback before the provider.
func startMeterProvider(engine *docauth.Engine, readers ...sdkmetric.Reader) (func(context.Context) error, error) {
	opts := make([]sdkmetric.Option, 0, len(readers))
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)

	exp, err := otelexport.NewExporter(mp.Meter(meterName), engine)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, oops.Code("METRICS_INIT_FAILED").Wrap(err)
	}

	return func(ctx context.Context) error {
		return errors.Join(exp.Close(), mp.Shutdown(ctx))
	}, nil
}

// startOTLPMetrics pushes the engine's metrics to an OTLP/gRPC collector on
// cfg.Interval.
func startOTLPMetrics(ctx context.Context, cfg metricsConfig, engine *docauth.Engine) (func(context.Context) error, error) {
	target, insecure, err := otlpTarget(cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, oops.Code("METRICS_INIT_FAILED").With("endpoint", target).Wrap(err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))
	return startMeterProvider(engine, reader)
}

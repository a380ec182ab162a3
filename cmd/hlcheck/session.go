package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/engine"
	"github.com/wippyai/callguard/metrics"
	"github.com/wippyai/callguard/nulldriver"
)

const serviceName = "hlcheck"

// session is one engine over one null driver, with everything the commands
// hang off it.
type session struct {
	eng      *engine.Engine
	drv      *nulldriver.Driver
	metrics  *metrics.Collector
	registry *prometheus.Registry
	tp       *sdktrace.TracerProvider
	work     *workload
}

type sessionOptions struct {
	devices   int
	recycle   bool
	withProm  bool
	stageHook engine.StageFunc
}

func loadTable() (*api.Table, error) {
	if tableFile == "" {
		return api.Default(), nil
	}
	data, err := os.ReadFile(tableFile)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	return api.Parse(data)
}

func newSession(ctx context.Context, so sessionOptions) (*session, error) {
	tab, err := loadTable()
	if err != nil {
		return nil, err
	}

	s := &session{
		drv: nulldriver.New(tab,
			nulldriver.WithDevices(max(so.devices, 1)),
			nulldriver.WithRecycle(so.recycle)),
	}

	opts := []engine.Option{
		engine.WithFlags(flags),
		engine.WithSink(diag.NewZapSink(logger.Named("diag"))),
	}
	if so.stageHook != nil {
		opts = append(opts, engine.WithStageHook(so.stageHook))
	}
	if so.withProm {
		s.registry = prometheus.NewRegistry()
		s.metrics = metrics.New("callguard")
		if err := s.metrics.Register(s.registry); err != nil {
			return nil, err
		}
		opts = append(opts,
			engine.WithCallObserver(s.metrics),
			engine.WithHandleObserver(s.metrics))
	}
	if otlpEndpoint != "" {
		s.tp, err = newTracerProvider(ctx, otlpEndpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithTracerProvider(s.tp))
	}

	s.eng, err = engine.New(tab, s.drv.Dispatch(), opts...)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.work = newWorkload(s.eng, s.drv)
	if err := s.work.enumerate(ctx); err != nil {
		s.close(ctx)
		return nil, err
	}

	logger.Info("session started",
		zap.String("session", s.eng.ID().String()),
		zap.String("table", tab.Version()),
		zap.Int("entry_points", tab.Len()),
		zap.Int("handlers", s.eng.Chain().Len()))
	return s, nil
}

// shutdown ends the engine session and flushes spans.
func (s *session) shutdown(ctx context.Context) (*engine.LeakReport, error) {
	rep, err := s.eng.Shutdown(ctx)
	s.close(ctx)
	return rep, err
}

func (s *session) close(ctx context.Context) {
	if s.tp == nil {
		return
	}
	if err := s.tp.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	logger.Info("exporting call spans", zap.String("endpoint", endpoint))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

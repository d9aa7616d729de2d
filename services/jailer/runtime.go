package jailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"jailer/pkg/bus"
	"jailer/pkg/metrics"
	"jailer/pkg/operator"
	gos3 "jailer/pkg/s3"
	"jailer/pkg/telemetry"
)

const serviceName = "jailer"

// Runtime owns the resources behind a Dispatcher for one invocation.
type Runtime struct {
	Dispatcher *Dispatcher

	cfg      Config
	metrics  *metrics.Recorder
	bus      *bus.Bus
	shutdown telemetry.ShutdownFunc
	logger   zerolog.Logger
}

// Open validates cfg and wires the operator client, artifact sink and the
// optional tracing, metrics, S3 and NATS integrations.
func Open(ctx context.Context, cfg Config, out io.Writer, logger zerolog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	output, err := ParseOutputMode(string(cfg.Output))
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{cfg: cfg, shutdown: shutdown, logger: logger}

	client, err := operator.New(operator.Config{
		BaseURL:    cfg.APIURL,
		HTTPClient: telemetry.HTTPClient(cfg.Timeout),
		Logger:     &logger,
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	recipients, err := parseRecipients(cfg.AgeRecipients)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	sink := &ArtifactSink{
		Dir:        cfg.ArtifactsDir,
		Compress:   cfg.CompressArtifacts,
		Recipients: recipients,
		Logger:     logger,
	}
	if bucket := strings.TrimSpace(cfg.ArtifactBucket); bucket != "" {
		s3Client, err := gos3.New(ctx, gos3.Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3PathStyle,
			Timeout:      cfg.Timeout,
		})
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		sink.Store = s3Client
		sink.Bucket = bucket
	}

	var events Publisher
	if natsURL := strings.TrimSpace(cfg.NATSURL); natsURL != "" {
		b, err := bus.New(natsURL)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		rt.bus = b
		events = b
	}

	if strings.TrimSpace(cfg.PushgatewayURL) != "" {
		rt.metrics = metrics.New()
	}

	dispatcher, err := NewDispatcher(Options{
		Client:  client,
		Out:     out,
		Output:  output,
		Sink:    sink,
		Events:  events,
		Metrics: rt.metrics,
		Logger:  logger,
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.Dispatcher = dispatcher
	return rt, nil
}

// Close pushes metrics, drains the event bus and flushes traces. Failures are
// logged and joined; none of them affect command output.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.metrics != nil {
		if err := r.metrics.Push(ctx, r.cfg.PushgatewayURL, serviceName); err != nil {
			r.logger.Warn().Err(err).Msg("push metrics")
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
		r.metrics = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.shutdown != nil {
		if err := r.shutdown(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("shutdown telemetry")
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		r.shutdown = nil
	}
	return errors.Join(errs...)
}

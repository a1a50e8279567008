package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/wgctest/internal/config"
)

// NewExporterFromConfig returns nil when the sink is "none".
func NewExporterFromConfig(ctx context.Context, cfg config.Artifacts) (*Exporter, error) {
	sink, err := NewSink(ctx, cfg)
	if err != nil || sink == nil {
		return nil, err
	}
	return NewExporter(sink, cfg.Prefix), nil
}

// NewSink builds the sink named by cfg.Sink. It returns a nil sink for
// "none" and an empty name.
func NewSink(ctx context.Context, cfg config.Artifacts) (Sink, error) {
	switch cfg.Sink {
	case "", config.SinkNone:
		return nil, nil
	case config.SinkLocal:
		if cfg.Dir == "" {
			return nil, errors.New("local sink dir is required")
		}
		return NewLocalSink(cfg.Dir), nil
	case config.SinkS3:
		return sinkOrNil(NewS3Sink(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey))
	case config.SinkAzure:
		return sinkOrNil(NewAzureSink(cfg.AccountURL, cfg.Container, cfg.SASToken))
	case config.SinkGCS:
		return sinkOrNil(NewGCSSink(ctx, cfg.Bucket, cfg.CredentialsFile))
	case config.SinkB2:
		return sinkOrNil(NewB2Sink(ctx, cfg.Bucket, cfg.KeyID, cfg.ApplicationKey))
	default:
		return nil, fmt.Errorf("unknown artifact sink %q", cfg.Sink)
	}
}

// sinkOrNil keeps a failed constructor from producing a non-nil interface
// around a nil pointer.
func sinkOrNil[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

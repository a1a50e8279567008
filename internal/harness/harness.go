// Package harness runs scenarios one at a time against a backend, prints
// one result line per scenario and builds the run report.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/breeze-rmm/wgctest/internal/artifact"
	"github.com/breeze-rmm/wgctest/internal/fixture"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/scenarios"
	"github.com/breeze-rmm/wgctest/internal/verify"
)

var log = logging.L("harness")

// Status of a finished scenario.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

const defaultFrameTimeout = 10 * time.Second

// Runner executes scenarios sequentially.
type Runner struct {
	backend      fixture.Backend
	exporter     *artifact.Exporter
	out          io.Writer
	frameTimeout time.Duration
	logLevel     string
}

type Option func(*Runner)

// WithExporter saves the image behind every texture failure.
func WithExporter(e *artifact.Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// WithOutput sets where result lines go. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithFrameTimeout bounds each scenario. Zero disables the bound.
func WithFrameTimeout(d time.Duration) Option {
	return func(r *Runner) { r.frameTimeout = d }
}

// WithRecordLevel sets the lowest level copied into each result's logs.
func WithRecordLevel(level string) Option {
	return func(r *Runner) { r.logLevel = level }
}

func NewRunner(b fixture.Backend, opts ...Option) *Runner {
	r := &Runner{
		backend:      b,
		out:          os.Stdout,
		frameTimeout: defaultFrameTimeout,
		logLevel:     "warn",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every scenario in order and returns the report. Cancelling
// ctx fails the scenario in progress and skips the rest.
func (r *Runner) Run(ctx context.Context, list []scenarios.Scenario) *Report {
	rep := &Report{
		StartedAt: time.Now().UTC(),
		Backend:   r.backend.Name(),
	}
	for _, sc := range list {
		var res Result
		if err := ctx.Err(); err != nil {
			res = Result{Name: sc.Name, Status: StatusSkipped, Message: err.Error()}
			r.print(res)
		} else {
			res = r.RunOne(ctx, sc)
		}
		rep.add(res)
	}
	rep.FinishedAt = time.Now().UTC()
	return rep
}

// RunOne executes a single scenario and prints its result line.
func (r *Runner) RunOne(ctx context.Context, sc scenarios.Scenario) Result {
	rec := logging.NewRecorder(r.logLevel, 0)
	detach := logging.Attach(rec)
	defer detach()

	logger := logging.WithTest(log, sc.Name)
	ctx = logging.NewContext(ctx, logger)
	if r.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.frameTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.invoke(ctx, sc)
	res := Result{Name: sc.Name, DurationMs: time.Since(start).Milliseconds()}

	switch {
	case err == nil:
		res.Status = StatusPassed
	case errors.Is(err, fixture.ErrUnsupported):
		res.Status = StatusSkipped
		res.Message = err.Error()
	default:
		res.Status = StatusFailed
		res.Message = err.Error()
		r.exportFailure(ctx, sc.Name, err, &res)
	}

	logger.Debug("scenario finished", "status", res.Status, logging.KeyDurationMs, res.DurationMs)
	res.Logs = rec.Drain()
	res.DroppedLogs = rec.Dropped()
	r.print(res)
	return res
}

func (r *Runner) invoke(ctx context.Context, sc scenarios.Scenario) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("scenario panicked", logging.KeyTest, sc.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return sc.Run(ctx, r.backend)
}

// exportFailure saves the texture behind a verification failure and
// releases it. Export problems are logged, never turned into failures.
func (r *Runner) exportFailure(ctx context.Context, name string, err error, res *Result) {
	var te *verify.TextureError
	if !errors.As(err, &te) {
		return
	}
	defer te.Release()
	if r.exporter == nil || te.Texture == nil {
		return
	}
	// the scenario may have used up the timeout
	a, xerr := r.exporter.Export(context.WithoutCancel(ctx), name, te.Texture)
	if xerr != nil {
		log.Warn("failed to export texture", logging.KeyTest, name, logging.KeyError, xerr)
		return
	}
	res.Artifact = a
}

func (r *Runner) print(res Result) {
	fmt.Fprintln(r.out, res.Line())
}

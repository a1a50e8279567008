package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var knownBackends = map[string]bool{
	BackendAuto:     true,
	BackendWindows:  true,
	BackendSoftware: true,
}

var knownSinks = map[string]bool{
	SinkNone:  true,
	SinkLocal: true,
	SinkS3:    true,
	SinkAzure: true,
	SinkGCS:   true,
	SinkB2:    true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits problems into ones that must stop the run and
// ones that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; unknown names are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if !knownBackends[c.Backend] {
		r.Fatals = append(r.Fatals, fmt.Errorf("backend %q is not valid (use auto, windows, software)", c.Backend))
	}

	switch c.Backpressure {
	case "":
		c.Backpressure = BackpressureBlock
	case BackpressureBlock, BackpressureDropOldest:
	default:
		r.Fatals = append(r.Fatals, fmt.Errorf("backpressure %q is not valid (use block or drop-oldest)", c.Backpressure))
	}

	if c.FrameTimeoutSeconds < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_timeout_seconds %d is below minimum 0, clamping", c.FrameTimeoutSeconds))
		c.FrameTimeoutSeconds = 0
	} else if c.FrameTimeoutSeconds > 600 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_timeout_seconds %d exceeds maximum 600, clamping", c.FrameTimeoutSeconds))
		c.FrameTimeoutSeconds = 600
	}

	if c.SettleDelayMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("settle_delay_ms %d is below minimum 0, clamping", c.SettleDelayMs))
		c.SettleDelayMs = 0
	} else if c.SettleDelayMs > 10000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("settle_delay_ms %d exceeds maximum 10000, clamping", c.SettleDelayMs))
		c.SettleDelayMs = 10000
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	r.Fatals = append(r.Fatals, c.Artifacts.validate()...)
	return r
}

func (a *Artifacts) validate() []error {
	var errs []error

	a.Sink = strings.ToLower(strings.TrimSpace(a.Sink))
	if a.Sink == "" {
		a.Sink = SinkLocal
	}
	if !knownSinks[a.Sink] {
		return append(errs, fmt.Errorf("artifacts.sink %q is not valid", a.Sink))
	}

	switch a.Sink {
	case SinkLocal:
		if strings.TrimSpace(a.Dir) == "" {
			errs = append(errs, fmt.Errorf("artifacts.dir is required for sink %q", a.Sink))
		}
	case SinkS3, SinkGCS, SinkB2:
		if a.Bucket == "" {
			errs = append(errs, fmt.Errorf("artifacts.bucket is required for sink %q", a.Sink))
		}
	case SinkAzure:
		if a.AccountURL == "" || a.Container == "" {
			errs = append(errs, fmt.Errorf("artifacts.account_url and artifacts.container are required for sink %q", a.Sink))
		}
	}
	if a.Sink == SinkB2 && (a.KeyID == "" || a.ApplicationKey == "") {
		errs = append(errs, fmt.Errorf("artifacts.key_id and artifacts.application_key are required for sink %q", a.Sink))
	}
	if strings.Contains(a.Prefix, "..") {
		errs = append(errs, fmt.Errorf("artifacts.prefix %q must not contain '..'", a.Prefix))
	}
	return errs
}

// Validate runs ValidateTiered and logs everything it found. It returns
// all problems, fatal ones first.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	for _, err := range r.Fatals {
		slog.Error("config validation", "error", err)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return append(r.Fatals, r.Warnings...)
}

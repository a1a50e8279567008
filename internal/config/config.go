package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendAuto     = "auto"
	BackendWindows  = "windows"
	BackendSoftware = "software"
)

// Backpressure policies for the capture bridge.
const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop-oldest"
)

// Artifact sink names.
const (
	SinkNone  = "none"
	SinkLocal = "local"
	SinkS3    = "s3"
	SinkAzure = "azure"
	SinkGCS   = "gcs"
	SinkB2    = "b2"
)

type Config struct {
	Backend             string    `mapstructure:"backend"`
	Tests               []string  `mapstructure:"tests"`
	FrameTimeoutSeconds int       `mapstructure:"frame_timeout_seconds"`
	SettleDelayMs       int       `mapstructure:"settle_delay_ms"`
	Backpressure        string    `mapstructure:"backpressure"`
	LogLevel            string    `mapstructure:"log_level"`
	LogFormat           string    `mapstructure:"log_format"`
	LogFile             string    `mapstructure:"log_file"`
	ReportPath          string    `mapstructure:"report_path"`
	Artifacts           Artifacts `mapstructure:"artifacts"`
}

// Artifacts controls where failure images are written.
type Artifacts struct {
	Sink   string `mapstructure:"sink"`
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`

	// s3, gcs, b2
	Bucket string `mapstructure:"bucket"`

	// s3
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// azure
	AccountURL string `mapstructure:"account_url"`
	Container  string `mapstructure:"container"`
	SASToken   string `mapstructure:"sas_token"`

	// gcs
	CredentialsFile string `mapstructure:"credentials_file"`

	// b2
	KeyID          string `mapstructure:"key_id"`
	ApplicationKey string `mapstructure:"application_key"`
}

func Default() *Config {
	return &Config{
		Backend:             BackendAuto,
		FrameTimeoutSeconds: 10,
		SettleDelayMs:       200,
		Backpressure:        BackpressureBlock,
		LogLevel:            "info",
		LogFormat:           "text",
		Artifacts: Artifacts{
			Sink: SinkLocal,
			Dir:  ".",
		},
	}
}

// Load reads cfgFile (or wgctest.yaml from the default search path) and
// applies WGCTEST_* environment overrides on top of Default().
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("wgctest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix("WGCTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can resolve nested
// keys that are absent from the file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("tests", cfg.Tests)
	v.SetDefault("frame_timeout_seconds", cfg.FrameTimeoutSeconds)
	v.SetDefault("settle_delay_ms", cfg.SettleDelayMs)
	v.SetDefault("backpressure", cfg.Backpressure)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("report_path", cfg.ReportPath)

	a := cfg.Artifacts
	v.SetDefault("artifacts.sink", a.Sink)
	v.SetDefault("artifacts.dir", a.Dir)
	v.SetDefault("artifacts.prefix", a.Prefix)
	v.SetDefault("artifacts.bucket", a.Bucket)
	v.SetDefault("artifacts.region", a.Region)
	v.SetDefault("artifacts.endpoint", a.Endpoint)
	v.SetDefault("artifacts.access_key_id", a.AccessKeyID)
	v.SetDefault("artifacts.secret_access_key", a.SecretAccessKey)
	v.SetDefault("artifacts.account_url", a.AccountURL)
	v.SetDefault("artifacts.container", a.Container)
	v.SetDefault("artifacts.sas_token", a.SASToken)
	v.SetDefault("artifacts.credentials_file", a.CredentialsFile)
	v.SetDefault("artifacts.key_id", a.KeyID)
	v.SetDefault("artifacts.application_key", a.ApplicationKey)
}

// SaveTo writes cfg as YAML. Used by `wgctest config init`.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("backend", cfg.Backend)
	v.Set("tests", cfg.Tests)
	v.Set("frame_timeout_seconds", cfg.FrameTimeoutSeconds)
	v.Set("settle_delay_ms", cfg.SettleDelayMs)
	v.Set("backpressure", cfg.Backpressure)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("report_path", cfg.ReportPath)
	v.Set("artifacts.sink", cfg.Artifacts.Sink)
	v.Set("artifacts.dir", cfg.Artifacts.Dir)
	v.Set("artifacts.prefix", cfg.Artifacts.Prefix)
	v.Set("artifacts.bucket", cfg.Artifacts.Bucket)
	v.Set("artifacts.region", cfg.Artifacts.Region)
	v.Set("artifacts.endpoint", cfg.Artifacts.Endpoint)
	v.Set("artifacts.account_url", cfg.Artifacts.AccountURL)
	v.Set("artifacts.container", cfg.Artifacts.Container)

	if cfgFile == "" {
		cfgFile = filepath.Join(configDir(), "wgctest.yaml")
	}
	if dir := filepath.Dir(cfgFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	// Secrets are never written back; they come from the environment.
	return v.WriteConfigAs(cfgFile)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "wgctest")
	case "darwin":
		return "/Library/Application Support/wgctest"
	default:
		return "/etc/wgctest"
	}
}

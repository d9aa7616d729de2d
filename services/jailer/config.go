package jailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"jailer/pkg/operator"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultTimeout      = 30 * time.Second
	defaultLogLevel     = "warn"
)

// Config holds the runtime configuration of a jailer invocation. Values are
// layered: defaults, then the YAML file, then the environment, then flags.
type Config struct {
	APIURL            string        `yaml:"api_url" env:"JAILER_API_URL, overwrite"`
	ArtifactsDir      string        `yaml:"artifacts_dir" env:"JAILER_ARTIFACTS_DIR, overwrite"`
	Output            OutputMode    `yaml:"output" env:"JAILER_OUTPUT, overwrite"`
	Timeout           time.Duration `yaml:"timeout" env:"JAILER_TIMEOUT, overwrite"`
	LogLevel          string        `yaml:"log_level" env:"JAILER_LOG_LEVEL, overwrite"`
	CompressArtifacts bool          `yaml:"compress_artifacts" env:"JAILER_COMPRESS_ARTIFACTS, overwrite"`
	AgeRecipients     []string      `yaml:"age_recipients" env:"JAILER_AGE_RECIPIENTS, overwrite"`
	ArtifactBucket    string        `yaml:"artifact_bucket" env:"JAILER_ARTIFACT_BUCKET, overwrite"`
	S3Endpoint        string        `yaml:"s3_endpoint" env:"JAILER_S3_ENDPOINT, overwrite"`
	S3Region          string        `yaml:"s3_region" env:"JAILER_S3_REGION, overwrite"`
	S3AccessKey       string        `yaml:"s3_access_key" env:"JAILER_S3_ACCESS_KEY, overwrite"`
	S3SecretKey       string        `yaml:"s3_secret_key" env:"JAILER_S3_SECRET_KEY, overwrite"`
	S3PathStyle       bool          `yaml:"s3_path_style" env:"JAILER_S3_PATH_STYLE, overwrite"`
	NATSURL           string        `yaml:"nats_url" env:"JAILER_NATS_URL, overwrite"`
	OTLPEndpoint      string        `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT, overwrite"`
	PushgatewayURL    string        `yaml:"pushgateway_url" env:"JAILER_PUSHGATEWAY_URL, overwrite"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		APIURL:       operator.DefaultBaseURL,
		ArtifactsDir: defaultArtifactsDir,
		Output:       OutputText,
		Timeout:      defaultTimeout,
		LogLevel:     defaultLogLevel,
	}
}

// LoadConfig builds a Config from defaults, the optional YAML file at path and
// the environment seen through lookuper. A nil lookuper reads the process
// environment.
func LoadConfig(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.APIURL))
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", c.APIURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api url must use http or https: %q", c.APIURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("api url missing host: %q", c.APIURL)
	}
	if _, err := ParseOutputMode(string(c.Output)); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		return errors.New("artifacts dir is required")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if _, err := parseRecipients(c.AgeRecipients); err != nil {
		return err
	}
	return nil
}

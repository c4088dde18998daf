package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// DefaultEnvFile is where the API server keeps its settings, relative to the repo root.
const DefaultEnvFile = "server/.env"

// Config keys. They double as environment variable names once upper-cased.
const (
	KeyEnvironment     = "pixops_env"
	KeyLogLevel        = "log_level"
	KeyDatabaseURI     = "mongo_uri"
	KeyFaceServiceURL  = "face_service_url"
	KeyAPIURL          = "api_url"
	KeyClientURL       = "client_url"
	KeyProbeTimeout    = "probe_timeout"
	KeyDownloadTimeout = "download_timeout"
	KeyExtractTimeout  = "extract_timeout"
	KeyRecordDelay     = "record_delay"
)

// ErrDatabaseURIMissing is returned by ValidateDatabase when no connection string was configured.
var ErrDatabaseURIMissing = errors.New("MONGO_URI is not set")

type Config struct {
	Environment     string        `mapstructure:"pixops_env"`
	LogLevel        string        `mapstructure:"log_level"`
	DatabaseURI     string        `mapstructure:"mongo_uri"`
	FaceServiceURL  string        `mapstructure:"face_service_url"`
	APIURL          string        `mapstructure:"api_url"`
	ClientURL       string        `mapstructure:"client_url"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ExtractTimeout  time.Duration `mapstructure:"extract_timeout"`
	RecordDelay     time.Duration `mapstructure:"record_delay"`

	// EnvFile is the file that was consulted and EnvFileFound whether it existed.
	EnvFile      string `mapstructure:"-"`
	EnvFileFound bool   `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnvironment, EnvDev)
	v.SetDefault(KeyLogLevel, LogLevelInfo)
	v.SetDefault(KeyDatabaseURI, "")
	v.SetDefault(KeyFaceServiceURL, "http://localhost:5001")
	v.SetDefault(KeyAPIURL, "http://localhost:5000")
	v.SetDefault(KeyClientURL, "http://localhost:5173")
	v.SetDefault(KeyProbeTimeout, 5*time.Second)
	v.SetDefault(KeyDownloadTimeout, 20*time.Second)
	v.SetDefault(KeyExtractTimeout, 90*time.Second)
	v.SetDefault(KeyRecordDelay, 300*time.Millisecond)
}

func bindEnv(v *viper.Viper) error {
	keys := []string{
		KeyEnvironment, KeyLogLevel, KeyFaceServiceURL, KeyAPIURL, KeyClientURL,
		KeyProbeTimeout, KeyDownloadTimeout, KeyExtractTimeout, KeyRecordDelay,
	}
	// An empty variable counts as unset (viper's AllowEmptyEnv stays off), so
	// MONGO_URI= in the shell does not hide the env file's value.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return err
		}
	}
	// DATABASE_URL is accepted for the Postgres-backed deployments.
	return v.BindEnv(KeyDatabaseURI, "MONGO_URI", "DATABASE_URL")
}

// Load resolves the configuration. Precedence, highest first: overrides, process
// environment, envFile, defaults. A missing envFile is not an error.
func Load(envFile string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	found, err := mergeEnvFile(v, envFile)
	if err != nil {
		return nil, err
	}

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.EnvFile = envFile
	cfg.EnvFileFound = found

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// mergeEnvFile layers the KEY=VALUE pairs from path above the defaults.
// It reports whether the file existed; callers surface that through EnvFileFound.
func mergeEnvFile(v *viper.Viper, path string) (bool, error) {
	if path == "" {
		return false, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	if _, ok := values["MONGO_URI"]; !ok {
		if dbURL, ok := values["DATABASE_URL"]; ok {
			values["MONGO_URI"] = dbURL
		}
	}

	layer := make(map[string]any, len(values))
	for k, val := range values {
		layer[strings.ToLower(strings.TrimSpace(k))] = val
	}
	if err := v.MergeConfigMap(layer); err != nil {
		return false, fmt.Errorf("failed to merge env file %s: %w", path, err)
	}
	return true, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&c.LogLevel,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
		validation.Field(&c.FaceServiceURL, validation.Required, validation.By(validateServiceURL)),
		validation.Field(&c.APIURL, validation.Required, validation.By(validateServiceURL)),
		validation.Field(&c.ClientURL, validation.Required, validation.By(validateServiceURL)),
		validation.Field(&c.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.DownloadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ExtractTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RecordDelay, validation.Min(time.Duration(0))),
	)
}

// ValidateDatabase checks the settings only the database-backed commands need.
func (c *Config) ValidateDatabase() error {
	if strings.TrimSpace(c.DatabaseURI) == "" {
		return ErrDatabaseURIMissing
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DatabaseURI, validation.By(validateDatabaseURI)),
	)
}

// SupportedSchemes lists the database URI schemes the store can open.
var SupportedSchemes = []string{"mongodb", "mongodb+srv", "postgres", "postgresql"}

func validateDatabaseURI(value interface{}) error {
	uri, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return validation.NewError("validation_invalid_uri", "must be a connection URI (scheme://...)")
	}
	for _, s := range SupportedSchemes {
		if strings.EqualFold(scheme, s) {
			return nil
		}
	}
	return validation.NewError("validation_invalid_scheme",
		fmt.Sprintf("unsupported scheme %q (use one of %s)", scheme, strings.Join(SupportedSchemes, ", ")))
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	ServerURL    string `validate:"required,url"`
	RefreshToken string `validate:"required"`
	UserID       string
	ClientInfo   string `validate:"required"`

	// Audio capture
	VADEnabled     bool
	SampleRate     int           `validate:"gt=0"`
	ReadBufferSize int           `validate:"gt=0"`
	MaxRecording   time.Duration `validate:"gt=0"`

	TokenMargin    time.Duration `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	ProfilePath    string        `validate:"required"`

	// Optional integrations
	DatabaseURL string
	SentryDSN   string
	Environment string
	LogLevel    string `validate:"oneof=trace debug info warn error fatal panic disabled"`
}

func LoadConfigFromEnv() Config {
	return Config{
		ServerURL:    strings.TrimRight(getenv("VOX_SERVER_URL", ""), "/"),
		RefreshToken: os.Getenv("VOX_REFRESH_TOKEN"), // Required - no fallback
		UserID:       getenv("VOX_USER_ID", ""),
		ClientInfo:   getenv("VOX_CLIENT_INFO", "voxquery-go"),

		// Audio capture
		VADEnabled:     getenvBool("VOX_VAD_ENABLED", true),
		SampleRate:     getenvIntClamped("VOX_SAMPLE_RATE", 16000, 8000, 48000),
		ReadBufferSize: getenvIntClamped("VOX_READ_BUFFER_SIZE", 4000, 256, 65536),
		MaxRecording:   getenvDuration("VOX_MAX_RECORDING", 10*time.Second),

		TokenMargin:    getenvDuration("VOX_TOKEN_MARGIN", 30*time.Second),
		RequestTimeout: getenvDuration("VOX_REQUEST_TIMEOUT", 30*time.Second),
		ProfilePath:    getenv("VOX_PROFILE_PATH", defaultProfilePath()),

		// Optional integrations
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
	}
}

// Validate reports the first invalid or missing setting.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q validation", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "voxquery", "profile.yaml")
	}
	return filepath.Join(dir, "voxquery", "profile.yaml")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvIntClamped parses an int and clamps it to [min, max]. Unparsable
// values fall back to def.
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(k, def.String()))
	if err != nil {
		return def
	}
	return d
}

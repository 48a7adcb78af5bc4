package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amir-rz/all-commerce/internal/otp"
)

const (
	defaultAppName         = "AllCommerce"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 720 * time.Hour
	defaultRateLimit       = 5
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RotateRefreshOnUse bool

	OTPMode    otp.Mode
	OTPDigits  int
	CodeWindow time.Duration
	CodeSkew   uint

	ShutdownPeriod     time.Duration
	RateLimitPerMinute int
}

// Load reads configuration values from the environment and populates a
// Config instance. DATABASE_URL and REDIS_URL are mandatory outside
// development; in development the service falls back to in-memory stores.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenTTL:     defaultAccessTokenTTL,
		RefreshTokenTTL:    defaultRefreshTokenTTL,
		RotateRefreshOnUse: true,
		OTPMode:            otp.Mode(strings.ToLower(getEnv("OTP_MODE", string(otp.ModeTOTP)))),
		OTPDigits:          otp.DefaultDigits,
		CodeWindow:         otp.DefaultWindow,
		ShutdownPeriod:     defaultShutdownDelay,
		RateLimitPerMinute: defaultRateLimit,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if !cfg.OTPMode.Valid() {
		return Config{}, fmt.Errorf("invalid OTP_MODE %q (want totp or numeric)", cfg.OTPMode)
	}
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	if err := overrideDuration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := overrideBool(&cfg.RotateRefreshOnUse, "ROTATE_REFRESH_ON_USE"); err != nil {
		return Config{}, err
	}
	if err := overrideInt(&cfg.OTPDigits, "OTP_DIGITS"); err != nil {
		return Config{}, err
	}
	if err := overrideInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"); err != nil {
		return Config{}, err
	}

	// The code window accepts either a duration ("10m") or bare seconds,
	// matching how deployments historically set it.
	if v := os.Getenv("OTP_CODE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CodeWindow = d
		} else if seconds, err := strconv.Atoi(v); err == nil {
			cfg.CodeWindow = time.Duration(seconds) * time.Second
		} else {
			return Config{}, fmt.Errorf("invalid OTP_CODE_WINDOW: %q", v)
		}
	}
	if v := os.Getenv("OTP_CODE_SKEW"); v != "" {
		skew, err := strconv.Atoi(v)
		if err != nil || skew < 0 {
			return Config{}, fmt.Errorf("invalid OTP_CODE_SKEW: %q", v)
		}
		cfg.CodeSkew = uint(skew)
	}

	if cfg.OTPDigits < 4 || cfg.OTPDigits > 10 {
		return Config{}, fmt.Errorf("OTP_DIGITS must be between 4 and 10, got %d", cfg.OTPDigits)
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func overrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	AppURL   string `yaml:"app_url"`
	LogLevel string `yaml:"log_level"`
	// CORSOrigins is a comma separated allow list; empty allows any origin.
	CORSOrigins string `yaml:"cors_origins"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty trusts none and keys clients on the peer address.
	TrustedProxies string `yaml:"trusted_proxies"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	RedisURL string `yaml:"redis_url"`
	MySQLDSN string `yaml:"mysql_dsn"`

	S3 S3Config `yaml:"s3"`

	Discord DiscordConfig `yaml:"discord"`

	Upstream UpstreamConfig `yaml:"upstream"`

	SubmitRateLimit  int           `yaml:"submit_rate_limit"`
	SubmitRateWindow time.Duration `yaml:"submit_rate_window"`

	// TLS is served when both files are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

type S3Config struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Username   string `yaml:"username"`
	AvatarURL  string `yaml:"avatar_url"`
}

// UpstreamConfig bounds every Redis, S3 and Discord call.
type UpstreamConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

func Default() Config {
	return Config{
		Port:     "8080",
		AppURL:   "http://localhost:8080",
		LogLevel: "info",
		TokenTTL: 7 * 24 * time.Hour,
		S3: S3Config{
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Discord: DiscordConfig{Username: "big picture"},
		Upstream: UpstreamConfig{
			Timeout:  10 * time.Second,
			Attempts: 3,
			Backoff:  200 * time.Millisecond,
		},
		SubmitRateLimit:  10,
		SubmitRateWindow: time.Minute,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func applyEnv(cfg *Config) error {
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.AppURL = getenv("APP_URL", cfg.AppURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.CORSOrigins = getenv("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.TrustedProxies = getenv("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.MySQLDSN = getenv("MYSQL_DSN", cfg.MySQLDSN)

	cfg.S3.Endpoint = getenv("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Region = getenv("S3_REGION", cfg.S3.Region)
	cfg.S3.AccessKey = getenv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getenv("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Bucket = getenv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.PublicBaseURL = getenv("S3_PUBLIC_BASE_URL", cfg.S3.PublicBaseURL)

	cfg.Discord.WebhookURL = getenv("DISCORD_WEBHOOK_URL", cfg.Discord.WebhookURL)
	cfg.Discord.Username = getenv("DISCORD_USERNAME", cfg.Discord.Username)
	cfg.Discord.AvatarURL = getenv("DISCORD_AVATAR_URL", cfg.Discord.AvatarURL)
	cfg.TLSCertFile = getenv("TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = getenv("TLS_KEY_FILE", cfg.TLSKeyFile)

	var errs []error
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, named("S3_USE_SSL", err))
		cfg.S3.UseSSL = b
	}
	errs = append(errs,
		envDuration("TOKEN_TTL", &cfg.TokenTTL),
		envDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout),
		envDuration("UPSTREAM_BACKOFF", &cfg.Upstream.Backoff),
		envDuration("SUBMIT_RATE_WINDOW", &cfg.SubmitRateWindow),
		envInt("UPSTREAM_ATTEMPTS", &cfg.Upstream.Attempts),
		envInt("SUBMIT_RATE_LIMIT", &cfg.SubmitRateLimit),
	)
	return errors.Join(errs...)
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return named(key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return named(key, err)
	}
	*dst = n
	return nil
}

func named(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("env %s: %w", key, err)
}

// Validate reports every missing or out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, val string }{
		{"JWT_SECRET", c.JWTSecret},
		{"REDIS_URL", c.RedisURL},
		{"S3_BUCKET", c.S3.Bucket},
		{"DISCORD_WEBHOOK_URL", c.Discord.WebhookURL},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("missing env %s", r.key))
		}
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.Upstream.Attempts < 1 {
		errs = append(errs, errors.New("upstream attempts must be at least 1"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream timeout must be positive"))
	}
	for _, p := range c.Proxies() {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p))
		}
	}
	return errors.Join(errs...)
}

// ApplySettings overrides values with rows from the settings table.
// lookup returns "" for settings that are not present.
func (c *Config) ApplySettings(lookup func(name string) string) {
	if v := lookup("app_url"); v != "" {
		c.AppURL = v
	}
	if v := lookup("discord_webhook_url"); v != "" {
		c.Discord.WebhookURL = v
	}
	if v := lookup("discord_username"); v != "" {
		c.Discord.Username = v
	}
	if v := lookup("discord_avatar_url"); v != "" {
		c.Discord.AvatarURL = v
	}
}

// Origins splits CORSOrigins.
func (c Config) Origins() []string { return splitList(c.CORSOrigins) }

// Proxies splits TrustedProxies.
func (c Config) Proxies() []string { return splitList(c.TrustedProxies) }

func splitList(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

package main

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/docauth"
)

// daemonConfig is the YAML file layout. Flags use the same dotted keys
// (for example --http.addr) and win over the file.
type daemonConfig struct {
	HTTP     httpConfig     `koanf:"http"`
	Log      logConfig      `koanf:"log"`
	Database databaseConfig `koanf:"database"`
	Redis    redisConfig    `koanf:"redis"`
	Notify   notifyConfig   `koanf:"notify"`
	Auth     authConfig     `koanf:"auth"`
	Metrics  metricsConfig  `koanf:"metrics"`
}

type httpConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type logConfig struct {
	Environment string `koanf:"environment"`
	Level       string `koanf:"level"`
	Format      string `koanf:"format"`
}

// databaseConfig selects the credential store. An empty URL keeps
// credentials in memory.
type databaseConfig struct {
	URL string `koanf:"url"`
}

type redisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
	// Embedded starts an in-process miniredis. Development only.
	Embedded bool `koanf:"embedded"`
}

type notifyConfig struct {
	Driver string      `koanf:"driver"` // "log" or "kafka"
	Kafka  kafkaConfig `koanf:"kafka"`
}

type kafkaConfig struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type authConfig struct {
	// SigningKey and HashKey are base64 encoded.
	SigningKey        string        `koanf:"signing_key"`
	HashKey           string        `koanf:"hash_key"`
	Issuer            string        `koanf:"issuer"`
	Admins            []string      `koanf:"admins"`
	SessionTTL        time.Duration `koanf:"session_ttl"`
	OTPTTL            time.Duration `koanf:"otp_ttl"`
	OTPCooldown       time.Duration `koanf:"otp_cooldown"`
	OTPMaxAttempts    int           `koanf:"otp_max_attempts"`
	VerificationTTL   time.Duration `koanf:"verification_ttl"`
	LoginMaxFailures  int           `koanf:"login_max_failures"`
	LoginWindow       time.Duration `koanf:"login_window"`
	PasswordMinLength int           `koanf:"password_min_length"`
	Audit             bool          `koanf:"audit"`
}

// metricsConfig selects the exporter: "prometheus" is scraped on Path,
// "otlp" pushes to OTLPEndpoint every Interval.
type metricsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Latency      bool          `koanf:"latency"`
	Exporter     string        `koanf:"exporter"`
	Path         string        `koanf:"path"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	OTLPInsecure bool          `koanf:"otlp_insecure"`
	Interval     time.Duration `koanf:"interval"`
}

func defaultDaemonConfig() daemonConfig {
	engine := docauth.DefaultConfig()
	return daemonConfig{
		HTTP: httpConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log: logConfig{
			Environment: "production",
			Level:       "info",
			Format:      "json",
		},
		Notify: notifyConfig{
			Driver: "log",
			Kafka:  kafkaConfig{WriteTimeout: 5 * time.Second},
		},
		Auth: authConfig{
			Issuer:            "docauth",
			SessionTTL:        engine.Session.TTL,
			OTPTTL:            engine.OTP.TTL,
			OTPCooldown:       engine.OTP.Cooldown,
			OTPMaxAttempts:    engine.OTP.MaxAttempts,
			VerificationTTL:   engine.Verification.TTL,
			LoginMaxFailures:  engine.Login.MaxFailures,
			LoginWindow:       engine.Login.Window,
			PasswordMinLength: engine.Password.MinLength,
		},
		Metrics: metricsConfig{
			Enabled:  true,
			Exporter: "prometheus",
			Path:     "/metrics",
			Interval: 15 * time.Second,
		},
	}
}

// bindFlags registers the overridable keys. Flag defaults mirror
// defaultDaemonConfig so an unset flag never clobbers a file value with
// something different.
func bindFlags(fs *pflag.FlagSet) {
	d := defaultDaemonConfig()
	fs.String("http.addr", d.HTTP.Addr, "listen address")
	fs.String("log.environment", d.Log.Environment, "production or development")
	fs.String("log.level", d.Log.Level, "debug, info, warn or error")
	fs.String("log.format", d.Log.Format, "json or console")
	fs.String("database.url", d.Database.URL, "postgres URL; empty keeps credentials in memory")
	fs.Bool("redis.embedded", d.Redis.Embedded, "run an in-process miniredis (development only)")
	fs.String("notify.driver", d.Notify.Driver, "log or kafka")
	fs.String("metrics.exporter", d.Metrics.Exporter, "prometheus or otlp")
	fs.String("metrics.otlp_endpoint", d.Metrics.OTLPEndpoint, "OTLP/gRPC collector, e.g. localhost:4317")
}

// loadConfig layers defaults, the optional YAML file and changed flags.
func loadConfig(path string, fs *pflag.FlagSet) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// engineConfig maps the daemon settings onto docauth.Config.
func (c daemonConfig) engineConfig() (docauth.Config, error) {
	cfg := docauth.DefaultConfig()

	signingKey, err := decodeKey("auth.signing_key", c.Auth.SigningKey)
	if err != nil {
		return cfg, err
	}
	hashKey, err := decodeKey("auth.hash_key", c.Auth.HashKey)
	if err != nil {
		return cfg, err
	}

	cfg.Session.PrivateKey = signingKey
	cfg.Session.Issuer = c.Auth.Issuer
	cfg.Session.TTL = c.Auth.SessionTTL
	cfg.OTP.HashKey = hashKey
	cfg.OTP.TTL = c.Auth.OTPTTL
	cfg.OTP.Cooldown = c.Auth.OTPCooldown
	cfg.OTP.MaxAttempts = c.Auth.OTPMaxAttempts
	cfg.Verification.TTL = c.Auth.VerificationTTL
	cfg.Login.MaxFailures = c.Auth.LoginMaxFailures
	cfg.Login.Window = c.Auth.LoginWindow
	cfg.Password.MinLength = c.Auth.PasswordMinLength
	cfg.Admin.AllowedIdentities = append([]string(nil), c.Auth.Admins...)
	cfg.Audit.Enabled = c.Auth.Audit
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func decodeKey(name, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", name).Errorf("%s must be base64: %w", name, err)
	}
	return key, nil
}

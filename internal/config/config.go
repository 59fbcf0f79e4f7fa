// Package config loads service configuration.
//
// Sources, later ones winning:
//  1. built-in defaults
//  2. the YAML file named by CONFIG_FILE, if any
//  3. environment variables (a .env file is loaded first when present)
//
// Secrets (session secret, SMTP password, relay key) are read from the
// environment only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/notify"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

// Mail delivery modes.
const (
	MailSMTP = "smtp"
	MailHTTP = "http"
	MailLog  = "log"
)

// FileConfig is the layout of the optional YAML file.
type FileConfig struct {
	App struct {
		Addr    string `yaml:"addr"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`
	Database struct {
		Driver         string `yaml:"driver"`
		URL            string `yaml:"url"`
		TimeZone       string `yaml:"timezone"`
		ClientEncoding string `yaml:"client_encoding"`
		MigrateOnStart *bool  `yaml:"migrate_on_start"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
		Dev   bool   `yaml:"dev"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Session struct {
		TTL          time.Duration `yaml:"ttl"`
		CookieSecure *bool         `yaml:"cookie_secure"`
		RedisURL     string        `yaml:"redis_url"`
	} `yaml:"session"`
	Reset struct {
		TokenTTL        time.Duration `yaml:"token_ttl"`
		InvalidatePrior bool          `yaml:"invalidate_prior"`
	} `yaml:"reset"`
	Mail struct {
		Mode         string `yaml:"mode"`
		From         string `yaml:"from"`
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUsername string `yaml:"smtp_username"`
		RelayURL     string `yaml:"relay_url"`
	} `yaml:"mail"`
	Model struct {
		Path string `yaml:"path"`
		URL  string `yaml:"url"`
	} `yaml:"model"`
}

type MailConfig struct {
	Mode     string
	SMTP     notify.SMTPConfig
	RelayURL string
	RelayKey string
}

// Config is the resolved configuration the binaries use.
type Config struct {
	Addr    string
	BaseURL string

	Database       database.Config
	MigrateOnStart bool
	Log            utilities.Config

	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool
	RedisURL      string

	ResetTTL             time.Duration
	ResetInvalidatePrior bool

	Mail MailConfig

	ModelPath string
	ModelURL  string
}

func defaults() *Config {
	return &Config{
		Addr:           "0.0.0.0:4000",
		BaseURL:        "http://localhost:4000",
		Database:       database.ConfigFromEnv(),
		MigrateOnStart: true,
		Log:            utilities.ConfigFromEnv(),
		SessionTTL:     12 * time.Hour,
		CookieSecure:   false,
		ResetTTL:       time.Hour,
		Mail:           MailConfig{Mode: MailLog, SMTP: notify.SMTPConfig{Port: 587}},
		ModelPath:      "models/lung_cancer.yaml",
	}
}

// Load reads .env (best effort), the CONFIG_FILE YAML and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.applyFile(fc)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile parses a YAML config file.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fileUnlessEnv(dst *string, key, v string) {
	if os.Getenv(key) == "" {
		setIf(dst, v)
	}
}

func (c *Config) applyFile(fc *FileConfig) {
	setIf(&c.Addr, fc.App.Addr)
	setIf(&c.BaseURL, fc.App.BaseURL)

	// c.Database already holds the DATABASE_* variables, which outrank the file
	if fc.Database.Driver != "" && os.Getenv("DATABASE_DRIVER") == "" {
		c.Database.Driver = strings.ToLower(fc.Database.Driver)
		if os.Getenv("DATABASE_URL") == "" {
			c.Database.DSN = database.DefaultDSN(c.Database.Driver)
		}
	}
	fileUnlessEnv(&c.Database.DSN, "DATABASE_URL", fc.Database.URL)
	fileUnlessEnv(&c.Database.TimeZone, "DATABASE_TIMEZONE", fc.Database.TimeZone)
	fileUnlessEnv(&c.Database.ClientEncoding, "DATABASE_CLIENT_ENCODING", fc.Database.ClientEncoding)
	if fc.Database.MigrateOnStart != nil {
		c.MigrateOnStart = *fc.Database.MigrateOnStart
	}

	setIf(&c.Log.Level, fc.Log.Level)
	c.Log.Dev = c.Log.Dev || fc.Log.Dev
	setIf(&c.Log.File, fc.Log.File)

	if fc.Session.TTL > 0 {
		c.SessionTTL = fc.Session.TTL
	}
	if fc.Session.CookieSecure != nil {
		c.CookieSecure = *fc.Session.CookieSecure
	}
	setIf(&c.RedisURL, fc.Session.RedisURL)

	if fc.Reset.TokenTTL > 0 {
		c.ResetTTL = fc.Reset.TokenTTL
	}
	c.ResetInvalidatePrior = fc.Reset.InvalidatePrior

	setIf(&c.Mail.Mode, strings.ToLower(fc.Mail.Mode))
	setIf(&c.Mail.SMTP.From, fc.Mail.From)
	setIf(&c.Mail.SMTP.Host, fc.Mail.SMTPHost)
	if fc.Mail.SMTPPort > 0 {
		c.Mail.SMTP.Port = fc.Mail.SMTPPort
	}
	setIf(&c.Mail.SMTP.Username, fc.Mail.SMTPUsername)
	setIf(&c.Mail.RelayURL, fc.Mail.RelayURL)

	setIf(&c.ModelPath, fc.Model.Path)
	setIf(&c.ModelURL, fc.Model.URL)
}

func (c *Config) applyEnv() error {
	setIf(&c.Addr, os.Getenv("APP_ADDR"))
	setIf(&c.BaseURL, os.Getenv("BASE_URL"))

	setIf(&c.Log.Level, os.Getenv("LOG_LEVEL"))
	setIf(&c.Log.File, os.Getenv("LOG_FILE"))

	c.SessionSecret = os.Getenv("SESSION_SECRET")
	setIf(&c.RedisURL, os.Getenv("REDIS_URL"))
	setIf(&c.Mail.Mode, strings.ToLower(os.Getenv("MAIL_MODE")))
	setIf(&c.Mail.SMTP.Host, os.Getenv("SMTP_HOST"))
	setIf(&c.Mail.SMTP.Username, os.Getenv("SMTP_USERNAME"))
	setIf(&c.Mail.SMTP.Password, os.Getenv("SMTP_PASSWORD"))
	setIf(&c.Mail.SMTP.From, os.Getenv("MAIL_FROM"))
	setIf(&c.Mail.RelayURL, os.Getenv("MAIL_RELAY_URL"))
	setIf(&c.Mail.RelayKey, os.Getenv("MAIL_RELAY_KEY"))
	setIf(&c.ModelPath, os.Getenv("MODEL_PATH"))
	setIf(&c.ModelURL, os.Getenv("MODEL_URL"))

	var err error
	if c.MigrateOnStart, err = envBool("MIGRATE_ON_START", c.MigrateOnStart); err != nil {
		return err
	}
	if c.CookieSecure, err = envBool("SESSION_COOKIE_SECURE", c.CookieSecure); err != nil {
		return err
	}
	if c.ResetInvalidatePrior, err = envBool("RESET_INVALIDATE_PRIOR", c.ResetInvalidatePrior); err != nil {
		return err
	}
	if c.SessionTTL, err = envDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.ResetTTL, err = envDuration("RESET_TOKEN_TTL", c.ResetTTL); err != nil {
		return err
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.Mail.SMTP.Port = p
	}
	return nil
}

// Validate checks combinations that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	switch c.Mail.Mode {
	case MailLog:
	case MailSMTP:
		if c.Mail.SMTP.Host == "" || c.Mail.SMTP.From == "" {
			return fmt.Errorf("MAIL_MODE=smtp needs SMTP_HOST and MAIL_FROM")
		}
	case MailHTTP:
		if c.Mail.RelayURL == "" {
			return fmt.Errorf("MAIL_MODE=http needs MAIL_RELAY_URL")
		}
	default:
		return fmt.Errorf("unsupported MAIL_MODE %q", c.Mail.Mode)
	}
	if c.ModelPath == "" && c.ModelURL == "" {
		return fmt.Errorf("one of MODEL_PATH or MODEL_URL is required")
	}
	if c.ResetTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("token and session lifetimes must be positive")
	}
	return nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Package config loads the settings of the reconciliation command: which
// checkpoint store and ledger to open, how categories are suggested, where
// review requests go, and the audit rules.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultSession is the session used when none is configured.
const DefaultSession = "DEC_2025_RECON"

// Store kinds.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Ledger kinds.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Categorizer kinds.
const (
	CategorizerKeyword = "keyword"
	CategorizerHTTP    = "http"
)

// Notifier kinds.
const (
	NotifierLog     = "log"
	NotifierWebhook = "webhook"
)

// Config is the structure of the YAML configuration file.
type Config struct {
	Session     string            `yaml:"session"`
	Store       StoreConfig       `yaml:"store"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Categorizer CategorizerConfig `yaml:"categorizer"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
	JournalDir  string            `yaml:"journal_dir"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LedgerConfig selects the ledger database. Categories are added to the
// ledger vocabulary when it is opened.
type LedgerConfig struct {
	Kind       string   `yaml:"kind"`
	Path       string   `yaml:"path"`
	DSN        string   `yaml:"dsn"`
	Categories []string `yaml:"categories"`
}

// CategorizerConfig selects the category suggestion service.
type CategorizerConfig struct {
	Kind       string        `yaml:"kind"`
	RulesPath  string        `yaml:"rules"`
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// NotifierConfig selects where review requests are delivered.
type NotifierConfig struct {
	Kind      string        `yaml:"kind"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// AuditConfig holds the audit rules.
type AuditConfig struct {
	MaterialityThreshold string   `yaml:"materiality_threshold"`
	IncomeCategories     []string `yaml:"income_categories"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Session: DefaultSession,
		Store: StoreConfig{
			Kind:   StoreFile,
			Path:   filepath.Join(".recon", "checkpoints"),
			Prefix: "recon",
		},
		Ledger: LedgerConfig{
			Kind: LedgerSQLite,
			Path: filepath.Join(".recon", "ledger.db"),
		},
		Categorizer: CategorizerConfig{
			Kind:    CategorizerKeyword,
			Timeout: 30 * time.Second,
		},
		Notifier: NotifierConfig{
			Kind:      NotifierLog,
			Timeout:   10 * time.Second,
			RateLimit: 1,
			Burst:     1,
		},
		Audit: AuditConfig{
			MaterialityThreshold: "5000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadEnv loads variables from the given dotenv files, or from .env when none
// are named. Missing files are ignored and variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %q: %w", file, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode config file %q as YAML: %w", absPath, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.clean()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"RECON_SESSION":               &c.Session,
		"RECON_STORE":                 &c.Store.Kind,
		"RECON_STORE_PATH":            &c.Store.Path,
		"RECON_REDIS_PASSWORD":        &c.Store.Password,
		"RECON_LEDGER":                &c.Ledger.Kind,
		"RECON_LEDGER_PATH":           &c.Ledger.Path,
		"RECON_LEDGER_DSN":            &c.Ledger.DSN,
		"RECON_CATEGORIZER":           &c.Categorizer.Kind,
		"RECON_CATEGORIZER_RULES":     &c.Categorizer.RulesPath,
		"RECON_CATEGORIZER_URL":       &c.Categorizer.URL,
		"RECON_CATEGORIZER_TOKEN":     &c.Categorizer.Token,
		"RECON_NOTIFIER":              &c.Notifier.Kind,
		"RECON_WEBHOOK_URL":           &c.Notifier.URL,
		"RECON_MATERIALITY_THRESHOLD": &c.Audit.MaterialityThreshold,
		"RECON_LOG_LEVEL":             &c.Log.Level,
		"RECON_LOG_FORMAT":            &c.Log.Format,
		"RECON_JOURNAL_DIR":           &c.JournalDir,
		"REDIS_ADDR":                  &c.Store.Addr,
	}
	for name, field := range str {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
	if v, ok := lookup("RECON_INCOME_CATEGORIES"); ok && v != "" {
		c.Audit.IncomeCategories = strings.Split(v, ",")
	}
	if v, ok := lookup("RECON_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RECON_REDIS_DB %q: %w", v, err)
		}
		c.Store.DB = db
	}
	// DATABASE_URL serves every postgres-backed component without its own DSN.
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		if c.Store.DSN == "" {
			c.Store.DSN = v
		}
		if c.Ledger.DSN == "" {
			c.Ledger.DSN = v
		}
	}
	return nil
}

func (c *Config) clean() {
	c.Session = strings.TrimSpace(c.Session)
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	c.Ledger.Kind = strings.ToLower(strings.TrimSpace(c.Ledger.Kind))
	c.Categorizer.Kind = strings.ToLower(strings.TrimSpace(c.Categorizer.Kind))
	c.Notifier.Kind = strings.ToLower(strings.TrimSpace(c.Notifier.Kind))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Ledger.Categories = compact(c.Ledger.Categories)
	c.Audit.IncomeCategories = compact(c.Audit.IncomeCategories)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Session == "" {
		return fmt.Errorf("session is required")
	}
	switch c.Store.Kind {
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for %s store", c.Store.Kind)
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for postgres store")
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store addr is required for redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	switch c.Ledger.Kind {
	case LedgerSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger path is required for sqlite ledger")
		}
	case LedgerPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger dsn is required for postgres ledger")
		}
	case LedgerMemory:
	default:
		return fmt.Errorf("unknown ledger kind %q", c.Ledger.Kind)
	}
	switch c.Categorizer.Kind {
	case CategorizerKeyword:
	case CategorizerHTTP:
		if c.Categorizer.URL == "" {
			return fmt.Errorf("categorizer url is required for http categorizer")
		}
	default:
		return fmt.Errorf("unknown categorizer kind %q", c.Categorizer.Kind)
	}
	switch c.Notifier.Kind {
	case NotifierLog:
	case NotifierWebhook:
		if c.Notifier.URL == "" {
			return fmt.Errorf("notifier url is required for webhook notifier")
		}
	default:
		return fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind)
	}
	if _, err := c.Threshold(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	return nil
}

// Threshold parses the materiality threshold.
func (c Config) Threshold() (decimal.Decimal, error) {
	threshold, err := decimal.NewFromString(strings.TrimSpace(c.Audit.MaterialityThreshold))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid materiality threshold %q: %w", c.Audit.MaterialityThreshold, err)
	}
	if !threshold.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("materiality threshold must be positive, got %s", threshold)
	}
	return threshold, nil
}

// LogLevel parses the log level.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

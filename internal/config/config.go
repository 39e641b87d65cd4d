package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"joke-catalog/internal/language"
)

var (
	ErrEmptyBotToken          = errors.New("telegram bot token is required")
	ErrEmptyDBPassword        = errors.New("database password is required")
	ErrDefaultLangUnsupported = errors.New("default language must be one of the supported languages")
	ErrInvalidMaxAmount       = errors.New("max amount must be positive")
)

type Config struct {
	App      AppConfig      `yaml:"app" env-prefix:"APP_"`
	Database DatabaseConfig `yaml:"database" env-prefix:"DB_"`
	Redis    RedisConfig    `yaml:"redis" env-prefix:"REDIS_"`
	Bot      BotConfig      `yaml:"bot" env-prefix:"BOT_"`
	Catalog  CatalogConfig  `yaml:"catalog" env-prefix:"CATALOG_"`
	NATS     NATSConfig     `yaml:"nats" env-prefix:"NATS_"`
	Health   HealthConfig   `yaml:"health" env-prefix:"HEALTH_"`
}

type AppConfig struct {
	Name        string `yaml:"name" env:"NAME" env-default:"joke-catalog"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"production"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

type DatabaseConfig struct {
	Host           string `yaml:"host" env:"HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PORT" env-default:"5432"`
	User           string `yaml:"user" env:"USER" env-default:"jokes"`
	Password       string `yaml:"password" env:"PASSWORD"`
	Name           string `yaml:"name" env:"NAME" env-default:"jokes"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"25"`
	MinConnections int    `yaml:"min_connections" env:"MIN_CONNECTIONS" env-default:"5"`
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	URL     string `yaml:"url" env:"URL" env-default:"redis://localhost:6379/0"`
}

type BotConfig struct {
	Enabled   bool    `yaml:"enabled" env:"ENABLED"`
	Token     string  `yaml:"token" env:"TOKEN"`
	ParseMode string  `yaml:"parse_mode" env:"PARSE_MODE" env-default:"Markdown"`
	AdminIDs  []int64 `yaml:"admin_ids" env:"ADMIN_IDS" env-separator:","`
}

type CatalogConfig struct {
	DefaultLang   string            `yaml:"default_lang" env:"DEFAULT_LANG" env-default:"en"`
	Languages     []string          `yaml:"languages" env:"LANGUAGES" env-separator:"," env-default:"en,de,cs,es,fr,pt"`
	Aliases       map[string]string `yaml:"aliases" env:"ALIASES"`
	MaxAmount     int               `yaml:"max_amount" env:"MAX_AMOUNT" env-default:"10"`
	StrictAmount  bool              `yaml:"strict_amount" env:"STRICT_AMOUNT" env-default:"false"`
	MaxTextLength int               `yaml:"max_text_length" env:"MAX_TEXT_LENGTH" env-default:"1000"`
	SeedFile      string            `yaml:"seed_file" env:"SEED_FILE"`
}

type HealthConfig struct {
	Port     int    `yaml:"port" env:"PORT" env-default:"8080"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT" env-default:"/healthz"`
	Metrics  string `yaml:"metrics" env:"METRICS" env-default:"/metrics"`
}

type NATSConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	URL          string        `yaml:"url" env:"URL" env-default:"nats://localhost:4222"`
	StreamName   string        `yaml:"stream_name" env:"STREAM_NAME" env-default:"JOKES"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"500ms"`
}

func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read loads the config file and environment without validating the result.
// Tools that need only part of the config check what they use themselves.
func Read() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.prod.yaml"
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	cleanenv.ReadEnv(&cfg)

	return &cfg, nil
}

// FromEnv builds a config from environment variables and defaults alone.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every binary needs. The bot token is only
// required while the bot is enabled.
func (c *Config) Validate() error {
	if c.Bot.Enabled && c.Bot.Token == "" {
		return ErrEmptyBotToken
	}

	if c.Database.Password == "" {
		return ErrEmptyDBPassword
	}

	return c.Catalog.Validate()
}

// Validate compares language codes the way the catalog does, so "EN" and
// "en-US" both name English.
func (c CatalogConfig) Validate() error {
	def := language.Normalize(c.DefaultLang)
	if def == "" || !slices.ContainsFunc(c.Languages, func(code string) bool {
		return language.Normalize(code) == def
	}) {
		return fmt.Errorf("%w: %q not in %v", ErrDefaultLangUnsupported, c.DefaultLang, c.Languages)
	}
	if c.MaxAmount <= 0 {
		return ErrInvalidMaxAmount
	}
	return nil
}

// IsAdmin reports whether the telegram user may moderate submissions.
func (b BotConfig) IsAdmin(userID int64) bool {
	return slices.Contains(b.AdminIDs, userID)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. DIETCHAT_PROVIDER_API_KEY.
const EnvPrefix = "DIETCHAT"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `mapstructure:"basic_config"`
	Databases    map[string]DatabaseConfig `mapstructure:"databases"`
	Redis        RedisConfig               `mapstructure:"redis"`
	Provider     ProviderConfig            `mapstructure:"provider"`
	Search       SearchConfig              `mapstructure:"search"`
	Conversation ConversationConfig        `mapstructure:"conversation"`
}

type BasicConfig struct {
	ServerAddress   string        `mapstructure:"server_address"`
	DatabaseType    string        `mapstructure:"database_type"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	Workers         int           `mapstructure:"workers"`
	WorkerQueueSize int           `mapstructure:"worker_queue_size"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Params   string `mapstructure:"params"`
}

// RedisConfig is optional; an empty host disables every redis-backed cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type ProviderConfig struct {
	Name                  string        `mapstructure:"name"`
	BaseURL               string        `mapstructure:"base_url"`
	Model                 string        `mapstructure:"model"`
	ExtractModel          string        `mapstructure:"extract_model"`
	APIKey                string        `mapstructure:"api_key"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	MaxIdleConns          int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `mapstructure:"max_conns_per_host"`
	ExtractTimeout        time.Duration `mapstructure:"extract_timeout"`
}

type SearchConfig struct {
	Provider       string        `mapstructure:"provider"`
	Endpoint       string        `mapstructure:"endpoint"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	GoogleAPIKey   string        `mapstructure:"google_api_key"`
	GoogleEngineID string        `mapstructure:"google_engine_id"`
}

type ConversationConfig struct {
	OwnershipPolicy string        `mapstructure:"ownership_policy"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	PersistTimeout  time.Duration `mapstructure:"persist_timeout"`
	KeepAlive       time.Duration `mapstructure:"keep_alive"`
}

var defaults = map[string]any{
	"basic_config.server_address":      ":8080",
	"basic_config.database_type":       "sqlite3",
	"basic_config.log_level":           "info",
	"basic_config.log_format":          "text",
	"basic_config.token_ttl":           "24h",
	"basic_config.rate_limit":          20,
	"basic_config.rate_window":         "1m",
	"basic_config.workers":             4,
	"basic_config.worker_queue_size":   64,
	"databases.sqlite3.dsn":            "dietchat.db",
	"redis.host":                       "",
	"redis.port":                       6379,
	"redis.username":                   "",
	"redis.password":                   "",
	"redis.db":                         0,
	"provider.name":                    "openai",
	"provider.base_url":                "https://integrate.api.nvidia.com/v1",
	"provider.model":                   "meta/llama-3.1-8b-instruct",
	"provider.extract_model":           "",
	"provider.api_key":                 "",
	"provider.dial_timeout":            "10s",
	"provider.response_header_timeout": "30s",
	"provider.max_idle_conns":          64,
	"provider.max_idle_conns_per_host": 16,
	"provider.max_conns_per_host":      32,
	"provider.extract_timeout":         "20s",
	"search.provider":                  "instant",
	"search.endpoint":                  "https://api.duckduckgo.com/",
	"search.user_agent":                "DietPlanApp/1.0",
	"search.timeout":                   "5s",
	"search.cache_ttl":                 "10m",
	"search.google_api_key":            "",
	"search.google_engine_id":          "",
	"conversation.ownership_policy":    "fork",
	"conversation.history_limit":       20,
	"conversation.persist_timeout":     "5s",
	"conversation.keep_alive":          "15s",
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is tolerated so the service can run from env alone;
// an explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if sqlite, ok := cfg.Databases["sqlite3"]; ok {
		sqlite.DSN = resolveSQLitePath(sqlite.DSN, filepath.Dir(absPath))
		cfg.Databases["sqlite3"] = sqlite
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	dbType := strings.ToLower(c.BasicConfig.DatabaseType)
	if _, ok := c.Databases[dbType]; !ok {
		return fmt.Errorf("database config for %s not found", dbType)
	}
	c.BasicConfig.DatabaseType = dbType
	switch strings.ToLower(c.Provider.Name) {
	case "openai", "claude", "gemini":
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider.Name)
	}
	switch c.Search.Provider {
	case "instant", "ddg", "google", "none":
	default:
		return fmt.Errorf("unsupported search provider: %s", c.Search.Provider)
	}
	switch c.Conversation.OwnershipPolicy {
	case "fork", "reject":
	default:
		return fmt.Errorf("unsupported ownership policy: %s", c.Conversation.OwnershipPolicy)
	}
	if c.BasicConfig.RateLimit <= 0 || c.BasicConfig.RateWindow <= 0 {
		return errors.New("rate_limit and rate_window must be positive")
	}
	if c.Provider.ExtractModel == "" {
		c.Provider.ExtractModel = c.Provider.Model
	}
	return nil
}

func resolveSQLitePath(dsn, baseDir string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(baseDir, dsn)
}

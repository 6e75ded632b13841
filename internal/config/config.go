// Package config loads client configuration from a YAML file, environment
// variables and built-in defaults, in that order of precedence (highest
// last written wins per viper rules: explicit file < env override).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldline/fieldline/internal/models"
)

// EntityConfig описывает один синхронизируемый тип сущностей
type EntityConfig struct {
	Type string        `mapstructure:"type"` // Type имя типа (ключ кэша)
	Path string        `mapstructure:"path"` // Path путь REST ресурса
	TTL  time.Duration `mapstructure:"ttl"`  // TTL срок жизни кэша (0 = default_ttl)
}

// SyncConfig настройки оркестратора синхронизации
type SyncConfig struct {
	Interval          time.Duration `mapstructure:"interval"`           // Interval период фоновой синхронизации
	BatchSize         int           `mapstructure:"batch_size"`         // BatchSize размер батча отправки
	MaxRetries        int           `mapstructure:"max_retries"`        // MaxRetries предел попыток на изменение
	BackoffBase       time.Duration `mapstructure:"backoff_base"`       // BackoffBase стартовая задержка повтора
	BackoffMax        time.Duration `mapstructure:"backoff_max"`        // BackoffMax потолок задержки повтора
	ReconnectCooldown time.Duration `mapstructure:"reconnect_cooldown"` // ReconnectCooldown пауза между sync по переподключению
	ListLimit         int           `mapstructure:"list_limit"`         // ListLimit лимит выдачи при pull (0 = без лимита)
}

// Config конфигурация клиента
type Config struct {
	ServerURL        string         `mapstructure:"server_url"`        // ServerURL базовый URL API
	DBPath           string         `mapstructure:"db_path"`           // DBPath путь к BoltDB файлу
	AuditDBPath      string         `mapstructure:"audit_db_path"`     // AuditDBPath путь к SQLite журналу аудита
	LogFile          string         `mapstructure:"log_file"`          // LogFile путь к лог-файлу ("" = stderr)
	ConflictStrategy string         `mapstructure:"conflict_strategy"` // ConflictStrategy server-wins/client-wins/manual
	DefaultTTL       time.Duration  `mapstructure:"default_ttl"`       // DefaultTTL срок жизни кэша по умолчанию
	ProbeInterval    time.Duration  `mapstructure:"probe_interval"`    // ProbeInterval период проверки доступности сервера
	Sync             SyncConfig     `mapstructure:"sync"`              // Sync настройки оркестратора
	Entities         []EntityConfig `mapstructure:"entities"`          // Entities синхронизируемые типы
}

// Strategy возвращает типизированную стратегию разрешения конфликтов
func (c *Config) Strategy() models.Strategy {
	return models.Strategy(c.ConflictStrategy)
}

// DefaultEntities типы сущностей maintenance-домена, синхронизируемые из
// коробки
func DefaultEntities() []EntityConfig {
	return []EntityConfig{
		{Type: "work_orders", Path: "/api/work-orders", TTL: 15 * time.Minute},
		{Type: "assets", Path: "/api/assets", TTL: time.Hour},
		{Type: "parts", Path: "/api/parts", TTL: time.Hour},
	}
}

// Load reads configuration. An explicit path must exist; with an empty
// path a fieldline.yaml is searched in the working directory and its
// absence is not an error. FIELDLINE_* environment variables override
// file values (FIELDLINE_SERVER_URL, FIELDLINE_SYNC_BATCH_SIZE, ...).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("db_path", "fieldline.db")
	v.SetDefault("audit_db_path", "fieldline-audit.db")
	v.SetDefault("conflict_strategy", string(models.StrategyServerWins))
	v.SetDefault("default_ttl", 15*time.Minute)
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.backoff_base", time.Second)
	v.SetDefault("sync.backoff_max", 30*time.Second)
	v.SetDefault("sync.reconnect_cooldown", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FIELDLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Отсутствие файла допустимо только при поиске по умолчанию
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.Entities) == 0 {
		cfg.Entities = DefaultEntities()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}

	switch c.Strategy() {
	case models.StrategyServerWins, models.StrategyClientWins, models.StrategyManual:
	default:
		return fmt.Errorf("unknown conflict_strategy %q", c.ConflictStrategy)
	}

	for _, entity := range c.Entities {
		if entity.Type == "" || entity.Path == "" {
			return fmt.Errorf("entity entries require both type and path")
		}
	}
	return nil
}

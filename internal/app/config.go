package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/intake"
	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/tenant"
)

const envPrefix = "ORDERSYNC"

const (
	// StorageDriverMemory хранит staging в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"

	// ERPDriverMemory — встроенная ERP для разработки.
	ERPDriverMemory = "memory"
	// ERPDriverServiceLayer — SAP B1 Service Layer.
	ERPDriverServiceLayer = "servicelayer"
)

// Config описывает настройки запуска сервиса синхронизации.
type Config struct {
	LogLevel  string
	LogFormat string

	GRPCAddr    string
	MetricsAddr string

	IntakeEnabled    bool
	IntakeAddr       string
	ExternalIDPrefix string

	StorageDriver           string
	PostgresDSN             string
	PostgresAutoMigrate     bool
	PostgresMaxOpenConns    int
	PostgresConnMaxLifetime time.Duration

	ERPDriver             string
	ERPBaseURL            string
	ERPUsername           string
	ERPPassword           string
	ERPInsecureSkipVerify bool
	ERPTimeout            time.Duration
	ERPRateLimit          float64
	ERPRateBurst          int

	SyncInterval       time.Duration
	EnterpriseMappings string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisLockTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		LogLevel:                "info",
		LogFormat:               "text",
		GRPCAddr:                ":50051",
		MetricsAddr:             ":9090",
		IntakeEnabled:           true,
		IntakeAddr:              ":8000",
		ExternalIDPrefix:        intake.DefaultExternalIDPrefix,
		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		PostgresMaxOpenConns:    10,
		PostgresConnMaxLifetime: 30 * time.Minute,
		ERPDriver:               ERPDriverMemory,
		ERPTimeout:              30 * time.Second,
		ERPRateLimit:            10,
		ERPRateBurst:            5,
		SyncInterval:            5 * time.Minute,
		RedisLockTTL:            10 * time.Minute,
		KafkaTopic:              kafka.DefaultTopic,
	}
}

// Load читает конфигурацию: значения по умолчанию, затем файл (если path
// не пустой), затем переменные окружения ORDERSYNC_*.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		LogLevel:                v.GetString("log.level"),
		LogFormat:               v.GetString("log.format"),
		GRPCAddr:                v.GetString("grpc_addr"),
		MetricsAddr:             v.GetString("metrics_addr"),
		IntakeEnabled:           v.GetBool("intake.enabled"),
		IntakeAddr:              v.GetString("intake.addr"),
		ExternalIDPrefix:        v.GetString("intake.external_id_prefix"),
		StorageDriver:           strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
		PostgresDSN:             strings.TrimSpace(v.GetString("postgres.dsn")),
		PostgresAutoMigrate:     v.GetBool("postgres.auto_migrate"),
		PostgresMaxOpenConns:    v.GetInt("postgres.max_open_conns"),
		PostgresConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		ERPDriver:               strings.ToLower(strings.TrimSpace(v.GetString("erp.driver"))),
		ERPBaseURL:              strings.TrimSpace(v.GetString("erp.base_url")),
		ERPUsername:             v.GetString("erp.username"),
		ERPPassword:             v.GetString("erp.password"),
		ERPInsecureSkipVerify:   v.GetBool("erp.insecure_skip_verify"),
		ERPTimeout:              v.GetDuration("erp.timeout"),
		ERPRateLimit:            v.GetFloat64("erp.rate_limit"),
		ERPRateBurst:            v.GetInt("erp.rate_burst"),
		SyncInterval:            v.GetDuration("sync.interval"),
		EnterpriseMappings:      v.GetString("sync.enterprise_mappings"),
		RedisAddr:               strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:           v.GetString("redis.password"),
		RedisDB:                 v.GetInt("redis.db"),
		RedisLockTTL:            v.GetDuration("redis.lock_ttl"),
		KafkaBrokers:            splitList(v.GetString("kafka.brokers")),
		KafkaTopic:              strings.TrimSpace(v.GetString("kafka.topic")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.LogLevel)
	v.SetDefault("log.format", d.LogFormat)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("intake.enabled", d.IntakeEnabled)
	v.SetDefault("intake.addr", d.IntakeAddr)
	v.SetDefault("intake.external_id_prefix", d.ExternalIDPrefix)
	v.SetDefault("storage.driver", d.StorageDriver)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", d.PostgresAutoMigrate)
	v.SetDefault("postgres.max_open_conns", d.PostgresMaxOpenConns)
	v.SetDefault("postgres.conn_max_lifetime", d.PostgresConnMaxLifetime)
	v.SetDefault("erp.driver", d.ERPDriver)
	v.SetDefault("erp.base_url", "")
	v.SetDefault("erp.username", "")
	v.SetDefault("erp.password", "")
	v.SetDefault("erp.insecure_skip_verify", false)
	v.SetDefault("erp.timeout", d.ERPTimeout)
	v.SetDefault("erp.rate_limit", d.ERPRateLimit)
	v.SetDefault("erp.rate_burst", d.ERPRateBurst)
	v.SetDefault("sync.interval", d.SyncInterval)
	v.SetDefault("sync.enterprise_mappings", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", d.RedisLockTTL)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", d.KafkaTopic)
}

// Validate проверяет согласованность настроек. Ошибки относятся к виду
// configuration_error: сервис с такой конфигурацией не запускается.
func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.LogFormat))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for storage.driver=postgres"))
		}
		if c.PostgresMaxOpenConns <= 0 {
			errs = append(errs, fmt.Errorf("postgres.max_open_conns must be positive, got %d", c.PostgresMaxOpenConns))
		}
		if c.PostgresConnMaxLifetime <= 0 {
			errs = append(errs, fmt.Errorf("postgres.conn_max_lifetime must be positive, got %s", c.PostgresConnMaxLifetime))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q (use memory|postgres)", c.StorageDriver))
	}

	switch c.ERPDriver {
	case ERPDriverMemory:
	case ERPDriverServiceLayer:
		if c.ERPBaseURL == "" {
			errs = append(errs, errors.New("erp.base_url is required for erp.driver=servicelayer"))
		}
		if c.ERPUsername == "" {
			errs = append(errs, errors.New("erp.username is required for erp.driver=servicelayer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported erp.driver %q (use memory|servicelayer)", c.ERPDriver))
	}

	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.SyncInterval))
	}
	if _, err := tenant.ParseMappings(c.EnterpriseMappings); err != nil {
		errs = append(errs, err)
	}
	if c.IntakeEnabled && c.IntakeAddr == "" {
		errs = append(errs, errors.New("intake.addr is required when intake is enabled"))
	}
	if c.RedisAddr != "" && c.RedisLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.lock_ttl must be positive, got %s", c.RedisLockTTL))
	}

	if len(errs) == 0 {
		return nil
	}
	return domain.WrapSyncError(domain.KindConfiguration, errors.Join(errs...))
}

// Tenants строит реестр предприятий из sync.enterprise_mappings.
func (c Config) Tenants() (*tenant.Registry, error) {
	return tenant.ParseMappings(c.EnterpriseMappings)
}

// ConfigureLogging применяет log.level и log.format к стандартному логгеру logrus.
func ConfigureLogging(c Config) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

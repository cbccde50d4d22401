package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	erpmemory "github.com/vladislavdragonenkov/ordersync/internal/erp/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/erp/servicelayer"
	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/scheduler"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordersync/internal/tenant"
)

// memoryDocNumStart — первый DocNum встроенной ERP.
const memoryDocNumStart = 1000

// Staging объединяет порты staging-хранилища, нужные движку и intake API.
type Staging interface {
	domain.StagingRepository
	domain.IntakeRepository
}

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Staging   Staging
	Store     *postgres.Store
	Connector erp.Connector
	Tenants   *tenant.Registry
	Metrics   *metrics.SyncMetrics
	Producer  *kafka.Producer
	Redis     *redis.Client
	Guard     scheduler.Guard
	Logger    *log.Entry
}

// NewDependencies создаёт зависимости по конфигурации. Kafka и Redis
// необязательны: при ошибке подключения сервис продолжает работу без них.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	tenants, err := cfg.Tenants()
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Tenants: tenants,
		Metrics: metrics.NewSyncMetrics(),
		Logger:  logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, err
	}
	if err := deps.initConnector(cfg); err != nil {
		deps.Close()
		return nil, err
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err == nil {
		deps.Producer = producer
	}
	deps.initGuard(ctx, cfg)

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithMaxOpenConns(cfg.PostgresMaxOpenConns),
			postgres.WithConnMaxLifetime(cfg.PostgresConnMaxLifetime),
		)
		if err != nil {
			return fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply migrations: %w", err)
			}
			version, applied, err := store.MigrationStatus(ctx)
			if err == nil {
				d.Logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("staging schema is up to date")
			}
		}
		d.Store = store
		d.Staging = postgres.NewStagingRepository(store)
		d.Logger.Info("staging storage: postgres")
	case StorageDriverMemory, "":
		d.Staging = memory.NewStagingRepository()
		d.Logger.Warn("staging storage: memory, orders are lost on restart")
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	return nil
}

func (d *Dependencies) initConnector(cfg Config) error {
	switch cfg.ERPDriver {
	case ERPDriverServiceLayer:
		connector, err := servicelayer.NewConnector(
			cfg.ERPBaseURL,
			servicelayer.Credentials{UserName: cfg.ERPUsername, Password: cfg.ERPPassword},
			servicelayer.WithLogger(d.Logger.WithField("component", "servicelayer")),
			servicelayer.WithTimeout(cfg.ERPTimeout),
			servicelayer.WithInsecureSkipVerify(cfg.ERPInsecureSkipVerify),
			servicelayer.WithRateLimit(cfg.ERPRateLimit, cfg.ERPRateBurst),
		)
		if err != nil {
			return fmt.Errorf("init service layer connector: %w", err)
		}
		d.Connector = connector
		d.Logger.WithField("base_url", cfg.ERPBaseURL).Info("erp connector: service layer")
	case ERPDriverMemory, "":
		d.Connector = erpmemory.NewConnector(memoryDocNumStart)
		d.Logger.Warn("erp connector: in-memory, documents are not sent anywhere")
	default:
		return fmt.Errorf("unsupported erp driver %q", cfg.ERPDriver)
	}
	return nil
}

func (d *Dependencies) initGuard(ctx context.Context, cfg Config) {
	if cfg.RedisAddr == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		d.Logger.WithError(err).Warn("redis is unavailable, continuing without cycle lock")
		_ = client.Close()
		return
	}

	d.Redis = client
	d.Guard = scheduler.NewRedisGuard(redislock.New(client), "", cfg.RedisLockTTL)
	d.Logger.WithField("addr", cfg.RedisAddr).Info("distributed cycle lock enabled")
}

// Publisher возвращает издателя событий или nil, если Kafka не настроена.
func (d *Dependencies) Publisher() domain.SyncEventPublisher {
	if d.Producer == nil {
		return nil
	}
	return d.Producer
}

// Ping проверяет доступность staging-хранилища.
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Ping(ctx)
}

// Close освобождает внешние ресурсы.
func (d *Dependencies) Close() error {
	var errs []error
	closeKafka(d.Producer, d.Logger)
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

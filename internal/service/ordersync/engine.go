// Package ordersync синхронизирует staged-заказы с документами ERP по всем тенантам.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/salesperson"
)

const (
	sessionCloseTimeout = 10 * time.Second
	statusWriteTimeout  = 10 * time.Second
	eventPublishTimeout = 5 * time.Second
)

// EngineOptions задаёт необязательные зависимости движка.
type EngineOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.SyncMetrics
	Publisher domain.SyncEventPublisher
	Clock     func() time.Time
}

// Option настраивает Engine.
type Option func(*EngineOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *EngineOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *EngineOptions) {
		opts.Metrics = m
	}
}

// WithPublisher задаёт publisher событий о результатах.
func WithPublisher(publisher domain.SyncEventPublisher) Option {
	return func(opts *EngineOptions) {
		opts.Publisher = publisher
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *EngineOptions) {
		opts.Clock = clock
	}
}

// Engine проходит по тенантам и синхронизирует их заказы строго последовательно.
type Engine struct {
	repo      domain.StagingRepository
	connector erp.Connector
	tenants   []domain.TenantTarget
	publisher domain.SyncEventPublisher
	metrics   *metrics.SyncMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewEngine создаёт движок синхронизации.
func NewEngine(repo domain.StagingRepository, connector erp.Connector, tenants []domain.TenantTarget, options ...Option) *Engine {
	var opts EngineOptions
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-engine")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		repo:      repo,
		connector: connector,
		tenants:   append([]domain.TenantTarget(nil), tenants...),
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       clock,
	}
}

// TenantReport — итог обработки одного тенанта за цикл.
type TenantReport struct {
	Enterprise   string
	Skipped      bool
	Created      int
	Updated      int
	CreateFailed int
	UpdateFailed int
	Err          error
}

// CycleReport — итог цикла по всем тенантам.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Tenants    []TenantReport
}

// Totals суммирует счётчики по тенантам.
func (r CycleReport) Totals() (created, updated, failed int) {
	for _, t := range r.Tenants {
		created += t.Created
		updated += t.Updated
		failed += t.CreateFailed + t.UpdateFailed
	}
	return created, updated, failed
}

// RunCycle выполняет один полный проход по тенантам.
// Ошибки отдельных заказов не возвращаются: они записываются в staging.
// Возвращаются только ошибки уровня тенанта, объединённые через errors.Join.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString(), StartedAt: e.now()}
	logger := e.logger.WithField("cycle_id", report.CycleID)

	e.metrics.CycleStarted()
	logger.WithField("tenants", len(e.tenants)).Info("sync cycle started")

	var errs []error
	for _, tenant := range e.tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("cycle interrupted before tenant %s: %w", tenant.EnterpriseCode, err))
			break
		}

		tr := e.runTenant(ctx, report.CycleID, tenant, logger.WithFields(log.Fields{
			"enterprise": tenant.EnterpriseCode,
			"database":   tenant.Database,
			"warehouse":  tenant.WarehouseID,
		}))
		report.Tenants = append(report.Tenants, tr)
		if tr.Err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant.EnterpriseCode, tr.Err))
		}
	}

	report.FinishedAt = e.now()
	err := errors.Join(errs...)
	e.metrics.CycleFinished(report.FinishedAt.Sub(report.StartedAt), err != nil)

	created, updated, failed := report.Totals()
	summary := logger.WithFields(log.Fields{
		"created":     created,
		"updated":     updated,
		"failed":      failed,
		"duration_ms": report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	})
	if err != nil {
		summary.WithError(err).Error("sync cycle finished with tenant errors")
	} else {
		summary.Info("sync cycle finished")
	}

	message := ""
	if err != nil {
		message = err.Error()
	}
	e.publish(ctx, logger, domain.SyncEvent{
		Type:       domain.EventCycleCompleted,
		CycleID:    report.CycleID,
		Message:    message,
		OccurredAt: report.FinishedAt,
	})

	return report, err
}

func (e *Engine) runTenant(ctx context.Context, cycleID string, tenant domain.TenantTarget, logger *log.Entry) (tr TenantReport) {
	tr.Enterprise = tenant.EnterpriseCode

	toUpdate, err := e.repo.FetchPendingUpdate(ctx, tenant.EnterpriseCode, tenant.WarehouseID)
	if err != nil {
		tr.Err = fmt.Errorf("fetch pending update orders: %w", err)
		e.metrics.TenantFailed(tenant.EnterpriseCode, "staging_error")
		logger.WithError(err).Error("failed to load orders pending update")
		return tr
	}
	toCreate, err := e.repo.FetchPendingCreate(ctx, tenant.EnterpriseCode, tenant.WarehouseID)
	if err != nil {
		tr.Err = fmt.Errorf("fetch pending create orders: %w", err)
		e.metrics.TenantFailed(tenant.EnterpriseCode, "staging_error")
		logger.WithError(err).Error("failed to load orders pending creation")
		return tr
	}

	if len(toUpdate) == 0 && len(toCreate) == 0 {
		tr.Skipped = true
		e.metrics.TenantSkipped(tenant.EnterpriseCode)
		logger.Debug("nothing to sync, erp session not opened")
		return tr
	}

	session, err := e.connector.Connect(ctx, tenant.Database)
	if err != nil {
		tr.Err = domain.WrapSyncError(domain.KindConnection, fmt.Errorf("connect to erp database %s: %w", tenant.Database, err))
		e.metrics.TenantFailed(tenant.EnterpriseCode, string(domain.KindConnection))
		logger.WithError(err).Error("failed to open erp session")
		return tr
	}
	e.metrics.SessionOpened(tenant.EnterpriseCode)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionCloseTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("failed to close erp session")
		}
	}()

	logger.WithFields(log.Fields{
		"pending_update": len(toUpdate),
		"pending_create": len(toCreate),
	}).Info("erp session opened")

	resolver := salesperson.NewResolver(session, logger)
	updater := NewUpdater(session, resolver, tenant, logger)
	creator := NewCreator(session, resolver, tenant, logger)

	for _, order := range toUpdate {
		if err := ctx.Err(); err != nil {
			tr.Err = fmt.Errorf("tenant interrupted: %w", err)
			return tr
		}
		outcome := domain.Updated()
		if err := updater.Update(ctx, order); err != nil {
			outcome = domain.UpdateFailed(err)
		}
		e.record(ctx, cycleID, tenant, order, outcome, &tr, logger)
	}

	for _, order := range toCreate {
		if err := ctx.Err(); err != nil {
			tr.Err = fmt.Errorf("tenant interrupted: %w", err)
			return tr
		}
		var outcome domain.SyncOutcome
		if ref, err := creator.Create(ctx, order); err != nil {
			outcome = domain.CreateFailed(err)
		} else {
			outcome = domain.Created(ref)
		}
		e.record(ctx, cycleID, tenant, order, outcome, &tr, logger)
	}

	return tr
}

// record переводит результат заказа в запись статуса, метрики и событие.
// Ошибка записи статуса только логируется.
func (e *Engine) record(ctx context.Context, cycleID string, tenant domain.TenantTarget, order domain.IntegrationOrder, outcome domain.SyncOutcome, tr *TenantReport, logger *log.Entry) {
	orderLogger := logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"external_id": order.ExternalID,
	})

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	event := domain.SyncEvent{
		CycleID:    cycleID,
		Enterprise: tenant.EnterpriseCode,
		OrderID:    order.ID,
		ExternalID: order.ExternalID,
		OccurredAt: e.now(),
	}

	var (
		operation string
		writeErr  error
	)
	switch outcome.Kind {
	case domain.OutcomeCreated:
		tr.Created++
		operation = "mark_created"
		ref := outcome.Ref
		event.Type, event.ERP = domain.EventOrderCreated, &ref
		writeErr = e.repo.MarkCreated(writeCtx, order.ID, ref)
	case domain.OutcomeUpdated:
		tr.Updated++
		operation = "mark_updated"
		event.Type, event.ERP = domain.EventOrderUpdated, order.ERP
		writeErr = e.repo.MarkUpdated(writeCtx, order.ID)
	case domain.OutcomeCreateFailed:
		tr.CreateFailed++
		operation = "mark_create_failed"
		event.Type, event.Message = domain.EventOrderCreateFailed, domain.NormalizeErrorMessage(outcome.Message)
		failLogger := orderLogger.WithField("error_kind", outcome.ErrorKind).WithField("error", outcome.Message)
		if outcome.CreatedDocEntry > 0 {
			failLogger.WithField("doc_entry", outcome.CreatedDocEntry).Error("erp document created but not confirmed, check it before retrying the order")
		} else {
			failLogger.Warn("order creation failed")
		}
		writeErr = e.repo.MarkCreateFailed(writeCtx, order.ID, event.Message)
	case domain.OutcomeUpdateFailed:
		tr.UpdateFailed++
		operation = "mark_update_failed"
		event.Type, event.ERP, event.Message = domain.EventOrderUpdateFailed, order.ERP, domain.NormalizeErrorMessage(outcome.Message)
		orderLogger.WithField("error_kind", outcome.ErrorKind).WithField("error", outcome.Message).Warn("order update failed")
		writeErr = e.repo.MarkUpdateFailed(writeCtx, order.ID, event.Message)
	default:
		orderLogger.WithField("outcome", outcome.Kind).Error("unknown sync outcome, status not written")
		return
	}

	e.metrics.OrderProcessed(tenant.EnterpriseCode, string(outcome.Kind))
	if writeErr != nil {
		e.metrics.StatusWriteFailed(operation)
		entry := orderLogger.WithError(writeErr).WithField("operation", operation)
		if outcome.Kind == domain.OutcomeCreated {
			entry = entry.WithFields(log.Fields{"doc_entry": outcome.Ref.DocEntry, "doc_num": outcome.Ref.DocNum})
		}
		entry.Error("failed to persist order sync status")
	}

	e.publish(ctx, orderLogger, event)
}

func (e *Engine) publish(ctx context.Context, logger *log.Entry, event domain.SyncEvent) {
	if e.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, event); err != nil {
		e.metrics.EventPublishFailed()
		logger.WithError(err).WithField("event_type", event.Type).Warn("failed to publish sync event")
	}
}

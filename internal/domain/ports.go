package domain

import (
	"context"
	"time"
)

// TenantTarget — маршрутизация одного предприятия: база ERP и склад по умолчанию.
type TenantTarget struct {
	EnterpriseCode string
	Database       string
	WarehouseID    int
}

// StagingRepository — шлюз к staging-хранилищу заказов.
// Каждая операция записи — одна атомарная команда над одной строкой.
type StagingRepository interface {
	// FetchPendingCreate возвращает ещё не интегрированные и не упавшие заказы тенанта.
	FetchPendingCreate(ctx context.Context, enterprise string, warehouseID int) ([]IntegrationOrder, error)
	// FetchPendingUpdate возвращает интегрированные заказы с флагом обновления и DocEntry.
	FetchPendingUpdate(ctx context.Context, enterprise string, warehouseID int) ([]IntegrationOrder, error)
	// MarkCreated фиксирует успешное создание документа. Идемпотентна.
	MarkCreated(ctx context.Context, orderID int64, ref ERPReference) error
	// MarkUpdated снимает флаги обновления и ошибки.
	MarkUpdated(ctx context.Context, orderID int64) error
	// MarkCreateFailed помечает заказ упавшим при создании.
	MarkCreateFailed(ctx context.Context, orderID int64, message string) error
	// MarkUpdateFailed помечает заказ упавшим при обновлении, сохраняя флаг обновления.
	MarkUpdateFailed(ctx context.Context, orderID int64, message string) error
}

// IntakeRepository принимает заказы от внешней системы и отдаёт их состояние.
type IntakeRepository interface {
	// UpsertByExternalID создаёт заказ или заменяет заметки и строки существующего.
	// created=true, если запись новая.
	UpsertByExternalID(ctx context.Context, sub OrderSubmission) (rec StagingRecord, created bool, err error)
	// GetByID возвращает запись или ErrOrderNotFound.
	GetByID(ctx context.Context, id int64) (StagingRecord, error)
	// GetByExternalID возвращает запись или ErrOrderNotFound.
	GetByExternalID(ctx context.Context, externalID string) (StagingRecord, error)
}

// SyncEventType — тип события о результате синхронизации.
type SyncEventType string

const (
	EventOrderCreated      SyncEventType = "order.created"
	EventOrderUpdated      SyncEventType = "order.updated"
	EventOrderCreateFailed SyncEventType = "order.create_failed"
	EventOrderUpdateFailed SyncEventType = "order.update_failed"
	EventCycleCompleted    SyncEventType = "cycle.completed"
)

// SyncEvent описывает результат обработки заказа или цикла целиком.
type SyncEvent struct {
	Type       SyncEventType
	CycleID    string
	Enterprise string
	OrderID    int64
	ExternalID string
	ERP        *ERPReference
	Message    string
	OccurredAt time.Time
}

// SyncEventPublisher отправляет события синхронизации наружу.
type SyncEventPublisher interface {
	Publish(ctx context.Context, event SyncEvent) error
}

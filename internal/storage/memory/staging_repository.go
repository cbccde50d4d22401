package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

var (
	_ domain.StagingRepository = (*StagingRepository)(nil)
	_ domain.IntakeRepository  = (*StagingRepository)(nil)
)

// StagingRepository — in-memory staging для локального запуска и тестов.
type StagingRepository struct {
	mu         sync.RWMutex
	nextID     int64
	nextDetail int64
	records    map[int64]*domain.StagingRecord
	byExternal map[string]int64
	now        func() time.Time
}

// NewStagingRepository создаёт пустое хранилище.
func NewStagingRepository() *StagingRepository {
	return &StagingRepository{
		records:    make(map[int64]*domain.StagingRecord),
		byExternal: make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// FetchPendingCreate возвращает заказы, ожидающие создания в ERP.
func (r *StagingRepository) FetchPendingCreate(_ context.Context, enterprise string, warehouseID int) ([]domain.IntegrationOrder, error) {
	return r.selectOrders(func(rec *domain.StagingRecord) bool {
		return !rec.Integrated && !rec.Failed &&
			rec.Order.Enterprise == enterprise && rec.Order.WarehouseID == warehouseID
	}), nil
}

// FetchPendingUpdate возвращает созданные заказы с флагом обновления.
func (r *StagingRepository) FetchPendingUpdate(_ context.Context, enterprise string, warehouseID int) ([]domain.IntegrationOrder, error) {
	return r.selectOrders(func(rec *domain.StagingRecord) bool {
		return rec.Integrated && rec.NeedsUpdate && !rec.Failed && rec.Order.ERP != nil &&
			rec.Order.Enterprise == enterprise && rec.Order.WarehouseID == warehouseID
	}), nil
}

// MarkCreated фиксирует ссылку на документ ERP.
func (r *StagingRepository) MarkCreated(_ context.Context, orderID int64, ref domain.ERPReference) error {
	return r.mutate(orderID, func(rec *domain.StagingRecord) {
		ts := r.now()
		rec.Integrated = true
		rec.NeedsUpdate = false
		rec.Failed = false
		rec.ErrorMessage = ""
		rec.IntegratedAt = &ts
		rec.Order.ERP = &domain.ERPReference{DocEntry: ref.DocEntry, DocNum: ref.DocNum}
	})
}

// MarkUpdated снимает флаги обновления и ошибки.
func (r *StagingRepository) MarkUpdated(_ context.Context, orderID int64) error {
	return r.mutate(orderID, func(rec *domain.StagingRecord) {
		ts := r.now()
		rec.NeedsUpdate = false
		rec.Failed = false
		rec.ErrorMessage = ""
		rec.IntegratedAt = &ts
	})
}

// MarkCreateFailed помечает заказ упавшим при создании.
func (r *StagingRepository) MarkCreateFailed(_ context.Context, orderID int64, message string) error {
	return r.mutate(orderID, func(rec *domain.StagingRecord) {
		rec.Failed = true
		rec.ErrorMessage = domain.NormalizeErrorMessage(message)
	})
}

// MarkUpdateFailed помечает заказ упавшим при обновлении.
func (r *StagingRepository) MarkUpdateFailed(_ context.Context, orderID int64, message string) error {
	return r.mutate(orderID, func(rec *domain.StagingRecord) {
		rec.NeedsUpdate = true
		rec.Failed = true
		rec.ErrorMessage = domain.NormalizeErrorMessage(message)
	})
}

// UpsertByExternalID создаёт заказ или заменяет заметки и строки существующего.
func (r *StagingRepository) UpsertByExternalID(_ context.Context, sub domain.OrderSubmission) (domain.StagingRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byExternal[sub.ExternalID]; ok {
		rec := r.records[id]
		rec.Order.Notes = sub.Notes
		rec.Order.Details = r.assignDetails(id, sub.Details)
		rec.NeedsUpdate = true
		rec.Failed = false
		rec.ErrorMessage = ""
		return cloneRecord(rec), false, nil
	}

	r.nextID++
	id := r.nextID
	rec := &domain.StagingRecord{
		Order: domain.IntegrationOrder{
			ID:          id,
			ExternalID:  sub.ExternalID,
			Customer:    sub.Customer,
			OrderDate:   sub.OrderDate,
			Salesperson: sub.Salesperson,
			Notes:       sub.Notes,
			Enterprise:  sub.Enterprise,
			WarehouseID: sub.WarehouseID,
			Details:     r.assignDetails(id, sub.Details),
		},
		CreatedAt:        r.now(),
		SalespersonEmail: sub.SalespersonEmail,
		SalespersonID:    sub.SalespersonID,
		Series:           sub.Series,
	}
	r.records[id] = rec
	r.byExternal[sub.ExternalID] = id
	return cloneRecord(rec), true, nil
}

// GetByID возвращает запись по первичному ключу.
func (r *StagingRepository) GetByID(_ context.Context, id int64) (domain.StagingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.StagingRecord{}, domain.ErrOrderNotFound
	}
	return cloneRecord(rec), nil
}

// GetByExternalID возвращает запись по внешнему идентификатору.
func (r *StagingRepository) GetByExternalID(ctx context.Context, externalID string) (domain.StagingRecord, error) {
	r.mu.RLock()
	id, ok := r.byExternal[externalID]
	r.mu.RUnlock()
	if !ok {
		return domain.StagingRecord{}, domain.ErrOrderNotFound
	}
	return r.GetByID(ctx, id)
}

// Put сохраняет запись как есть. Нужен для подготовки состояния в тестах и демо.
func (r *StagingRepository) Put(rec domain.StagingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Order.ID == 0 {
		r.nextID++
		rec.Order.ID = r.nextID
	} else if rec.Order.ID > r.nextID {
		r.nextID = rec.Order.ID
	}
	stored := cloneRecord(&rec)
	r.records[rec.Order.ID] = &stored
	if rec.Order.ExternalID != "" {
		r.byExternal[rec.Order.ExternalID] = rec.Order.ID
	}
}

func (r *StagingRepository) selectOrders(match func(*domain.StagingRecord) bool) []domain.IntegrationOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.records))
	for id, rec := range r.records {
		if match(rec) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.IntegrationOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRecord(r.records[id]).Order)
	}
	return out
}

func (r *StagingRepository) mutate(orderID int64, fn func(*domain.StagingRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	fn(rec)
	return nil
}

// assignDetails проставляет строкам идентификаторы; вызывается под блокировкой.
func (r *StagingRepository) assignDetails(orderID int64, details []domain.IntegrationOrderDetail) []domain.IntegrationOrderDetail {
	out := make([]domain.IntegrationOrderDetail, len(details))
	for i, d := range details {
		r.nextDetail++
		d.ID = r.nextDetail
		d.OrderID = orderID
		out[i] = d
	}
	return out
}

func cloneRecord(rec *domain.StagingRecord) domain.StagingRecord {
	out := *rec
	out.Order.Details = append([]domain.IntegrationOrderDetail(nil), rec.Order.Details...)
	if rec.Order.ERP != nil {
		ref := *rec.Order.ERP
		out.Order.ERP = &ref
	}
	if rec.IntegratedAt != nil {
		ts := *rec.IntegratedAt
		out.IntegratedAt = &ts
	}
	return out
}

package ordersync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	"github.com/vladislavdragonenkov/ordersync/internal/service/salesperson"
)

// Updater приводит существующий документ ERP к текущему состоянию staged-заказа.
type Updater struct {
	session  erp.Session
	resolver *salesperson.Resolver
	tenant   domain.TenantTarget
	logger   *log.Entry
}

// NewUpdater создаёт Updater поверх открытой сессии тенанта.
func NewUpdater(session erp.Session, resolver *salesperson.Resolver, tenant domain.TenantTarget, logger *log.Entry) *Updater {
	if logger == nil {
		logger = log.WithField("component", "order-updater")
	}
	return &Updater{session: session, resolver: resolver, tenant: tenant, logger: logger}
}

// Update перезаписывает шапку и сверяет строки документа по позициям.
// Ошибки имеют тип *domain.SyncError.
func (u *Updater) Update(ctx context.Context, order domain.IntegrationOrder) error {
	if !order.HasERPReference() {
		return domain.NewSyncError(domain.KindMissingKey, "order %d has no erp document reference", order.ID)
	}
	if len(order.Details) == 0 {
		return domain.NewSyncError(domain.KindEmptyOrder, "order %d has no details", order.ID)
	}

	doc, err := u.session.GetOrder(ctx, order.ERP.DocEntry)
	if err != nil {
		return classifyERPError(err)
	}

	applyHeader(doc, order, updateComment(order))
	if err := assignSalesperson(ctx, u.resolver, doc, order, u.logger); err != nil {
		return domain.WrapSyncError(domain.KindInternal, err)
	}

	appended, deleted, err := reconcileLines(&doc.Lines, order.Details, warehouseCode(u.tenant))
	if err != nil {
		return domain.WrapSyncError(domain.KindInternal, err)
	}

	if err := u.session.UpdateOrder(ctx, doc); err != nil {
		return classifyERPError(err)
	}

	u.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"doc_entry":     order.ERP.DocEntry,
		"lines":         len(order.Details),
		"lines_added":   appended,
		"lines_deleted": deleted,
	}).Info("sales order updated in erp")
	return nil
}

// reconcileLines делает строки документа позиционно равными строкам заказа:
// недостающие позиции добавляются в конец, лишние удаляются с хвоста по убыванию индекса.
func reconcileLines(lines *erp.Lines, details []domain.IntegrationOrderDetail, warehouse string) (appended, deleted int, err error) {
	existing := lines.Count()
	for i, d := range details {
		if i >= existing {
			lines.Add()
			existing++
			appended++
		}
		if err := lines.Set(i, lineFromDetail(d, warehouse)); err != nil {
			return appended, deleted, err
		}
	}

	for j := existing - 1; j >= len(details); j-- {
		if err := lines.Delete(j); err != nil {
			return appended, deleted, err
		}
		deleted++
	}
	return appended, deleted, nil
}

package ordersync

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	"github.com/vladislavdragonenkov/ordersync/internal/service/salesperson"
)

// Creator создаёт в ERP новые документы из staged-заказов одного тенанта.
type Creator struct {
	session  erp.Session
	resolver *salesperson.Resolver
	tenant   domain.TenantTarget
	logger   *log.Entry
}

// NewCreator создаёт Creator поверх открытой сессии тенанта.
func NewCreator(session erp.Session, resolver *salesperson.Resolver, tenant domain.TenantTarget, logger *log.Entry) *Creator {
	if logger == nil {
		logger = log.WithField("component", "order-creator")
	}
	return &Creator{session: session, resolver: resolver, tenant: tenant, logger: logger}
}

// Create отправляет документ и перечитывает его, чтобы получить DocNum.
// Ошибки имеют тип *domain.SyncError.
func (c *Creator) Create(ctx context.Context, order domain.IntegrationOrder) (domain.ERPReference, error) {
	if len(order.Details) == 0 {
		return domain.ERPReference{}, domain.NewSyncError(domain.KindEmptyOrder, "order %d has no details", order.ID)
	}

	doc := &erp.Document{}
	applyHeader(doc, order, creationComment(order))
	if err := assignSalesperson(ctx, c.resolver, doc, order, c.logger); err != nil {
		return domain.ERPReference{}, domain.WrapSyncError(domain.KindInternal, err)
	}

	warehouse := warehouseCode(c.tenant)
	for _, d := range order.Details {
		doc.Lines.Append(lineFromDetail(d, warehouse))
	}

	docEntry, err := c.session.AddOrder(ctx, doc)
	if err != nil {
		return domain.ERPReference{}, classifyERPError(err)
	}

	created, err := c.session.GetOrder(ctx, docEntry)
	if err != nil {
		return domain.ERPReference{}, unconfirmedDocument(docEntry, err)
	}

	ref := domain.ERPReference{DocEntry: docEntry, DocNum: created.DocNum}
	c.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"doc_entry": ref.DocEntry,
		"doc_num":   ref.DocNum,
		"lines":     len(order.Details),
	}).Info("sales order created in erp")
	return ref, nil
}

// unconfirmedDocument описывает документ, который ERP приняла, но не отдала при перечитывании.
// Текст ошибки содержит DocEntry, чтобы оператор не создал дубликат при повторе.
func unconfirmedDocument(docEntry int, err error) *domain.SyncError {
	cause := classifyERPError(err)
	return &domain.SyncError{
		Kind:     cause.Kind,
		Message:  fmt.Sprintf("document %d created but read-back failed: %s", docEntry, cause.Message),
		Err:      err,
		DocEntry: docEntry,
	}
}

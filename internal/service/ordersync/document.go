package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	"github.com/vladislavdragonenkov/ordersync/internal/service/salesperson"
)

// maxCommentLength — предел поля комментария документа в ERP.
const maxCommentLength = 254

func creationComment(order domain.IntegrationOrder) string {
	return buildComment("ordersync", order)
}

func updateComment(order domain.IntegrationOrder) string {
	return buildComment("ordersync update", order)
}

func buildComment(prefix string, order domain.IntegrationOrder) string {
	comment := fmt.Sprintf("%s order_id=%d external_id=%s", prefix, order.ID, order.ExternalID)
	if order.Notes != "" {
		comment += " | " + order.Notes
	}
	if runes := []rune(comment); len(runes) > maxCommentLength {
		comment = string(runes[:maxCommentLength])
	}
	return comment
}

// applyHeader переносит шапку заказа в документ. Дата заказа используется и как срок, и как налоговая дата.
func applyHeader(doc *erp.Document, order domain.IntegrationOrder, comment string) {
	doc.CardCode = order.Customer
	doc.DocDate = order.OrderDate
	doc.DocDueDate = order.OrderDate
	doc.TaxDate = order.OrderDate
	doc.Comments = comment
}

// warehouseCode — склад тенанта; он же склад каждой строки документа.
func warehouseCode(tenant domain.TenantTarget) string {
	return strconv.Itoa(tenant.WarehouseID)
}

func lineFromDetail(d domain.IntegrationOrderDetail, warehouse string) erp.Line {
	return erp.Line{
		ItemCode:        d.Product,
		Quantity:        d.Quantity,
		UnitPrice:       d.UnitPrice,
		DiscountPercent: d.Discount,
		WarehouseCode:   warehouse,
	}
}

// assignSalesperson назначает продавца, только если он найден.
func assignSalesperson(ctx context.Context, resolver *salesperson.Resolver, doc *erp.Document, order domain.IntegrationOrder, logger *log.Entry) error {
	code, found, err := resolver.Resolve(ctx, order.Salesperson)
	if err != nil {
		return err
	}
	if !found {
		if order.Salesperson != "" {
			logger.WithFields(log.Fields{
				"order_id":    order.ID,
				"salesperson": order.Salesperson,
			}).Warn("salesperson not found in erp, document left without salesperson")
		}
		return nil
	}
	doc.SalesPersonCode = &code
	return nil
}

// classifyERPError переводит ошибку ERP в ошибку синхронизации нужного вида.
func classifyERPError(err error) *domain.SyncError {
	var rejected *erp.RejectedError
	switch {
	case errors.As(err, &rejected):
		return &domain.SyncError{Kind: domain.KindERPRejected, Message: rejected.Message, Err: err}
	case errors.Is(err, erp.ErrDocumentNotFound):
		return domain.WrapSyncError(domain.KindNotFoundInERP, err)
	default:
		return domain.WrapSyncError(domain.KindInternal, err)
	}
}

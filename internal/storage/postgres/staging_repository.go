package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	selectOrdersWithDetails = `
		SELECT
			o.id, o.external_id, o.customer, o.order_date, o.salesperson, o.notes,
			o.enterprise, o.warehouse_id, o.doc_entry, o.doc_num,
			d.id, d.product, d.quantity, d.unit_price, d.discount, d.total, d.tax,
			d.cost_center, d.account
		FROM sap_orders o
		LEFT JOIN sap_order_details d ON d.order_id = o.id`

	pendingCreatePredicate = `
		WHERE o.is_integrated = FALSE
		  AND o.is_failed = FALSE
		  AND o.enterprise = $1
		  AND o.warehouse_id = $2
		ORDER BY o.id, d.id`

	pendingUpdatePredicate = `
		WHERE o.is_integrated = TRUE
		  AND o.is_updated = TRUE
		  AND o.is_failed = FALSE
		  AND o.doc_entry IS NOT NULL
		  AND o.enterprise = $1
		  AND o.warehouse_id = $2
		ORDER BY o.id, d.id`
)

var (
	_ domain.StagingRepository = (*StagingRepository)(nil)
	_ domain.IntakeRepository  = (*StagingRepository)(nil)
)

// StagingRepository — PostgreSQL-реализация staging-хранилища.
type StagingRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewStagingRepository создаёт репозиторий поверх открытого Store.
func NewStagingRepository(store *Store) *StagingRepository {
	return &StagingRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *StagingRepository) FetchPendingCreate(ctx context.Context, enterprise string, warehouseID int) ([]domain.IntegrationOrder, error) {
	orders, err := r.queryOrders(ctx, selectOrdersWithDetails+pendingCreatePredicate, enterprise, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("fetch pending create: %w", err)
	}
	return orders, nil
}

func (r *StagingRepository) FetchPendingUpdate(ctx context.Context, enterprise string, warehouseID int) ([]domain.IntegrationOrder, error) {
	orders, err := r.queryOrders(ctx, selectOrdersWithDetails+pendingUpdatePredicate, enterprise, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("fetch pending update: %w", err)
	}
	return orders, nil
}

func (r *StagingRepository) MarkCreated(ctx context.Context, orderID int64, ref domain.ERPReference) error {
	return r.execSingleRow(ctx, "mark created", `
		UPDATE sap_orders
		SET is_integrated = TRUE,
		    is_updated = FALSE,
		    is_failed = FALSE,
		    error_message = NULL,
		    doc_entry = $2,
		    doc_num = $3,
		    integration_date = $4
		WHERE id = $1
	`, orderID, ref.DocEntry, ref.DocNum, r.now())
}

func (r *StagingRepository) MarkUpdated(ctx context.Context, orderID int64) error {
	return r.execSingleRow(ctx, "mark updated", `
		UPDATE sap_orders
		SET is_updated = FALSE,
		    is_failed = FALSE,
		    error_message = NULL,
		    integration_date = $2
		WHERE id = $1
	`, orderID, r.now())
}

func (r *StagingRepository) MarkCreateFailed(ctx context.Context, orderID int64, message string) error {
	return r.execSingleRow(ctx, "mark create failed", `
		UPDATE sap_orders
		SET is_failed = TRUE,
		    error_message = $2
		WHERE id = $1
	`, orderID, domain.NormalizeErrorMessage(message))
}

func (r *StagingRepository) MarkUpdateFailed(ctx context.Context, orderID int64, message string) error {
	return r.execSingleRow(ctx, "mark update failed", `
		UPDATE sap_orders
		SET is_updated = TRUE,
		    is_failed = TRUE,
		    error_message = $2
		WHERE id = $1
	`, orderID, domain.NormalizeErrorMessage(message))
}

// UpsertByExternalID создаёт заказ или заменяет заметки и строки существующего
// в одной транзакции.
func (r *StagingRepository) UpsertByExternalID(ctx context.Context, sub domain.OrderSubmission) (rec domain.StagingRecord, created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StagingRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM sap_orders WHERE external_id = $1 FOR UPDATE`, sub.ExternalID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sap_orders (
				external_id, enterprise, warehouse_id, customer, order_date, salesperson,
				salesperson_email, salesperson_id, series, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id
		`,
			sub.ExternalID, sub.Enterprise, sub.WarehouseID, sub.Customer, sub.OrderDate, sub.Salesperson,
			sub.SalespersonEmail, sub.SalespersonID, sub.Series, sub.Notes,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.StagingRecord{}, false, domain.ErrDuplicateExternalID
			}
			return domain.StagingRecord{}, false, fmt.Errorf("insert order: %w", err)
		}
	case err != nil:
		return domain.StagingRecord{}, false, fmt.Errorf("lock order by external id: %w", err)
	default:
		if _, err = tx.ExecContext(ctx, `
			UPDATE sap_orders
			SET notes = $2,
			    is_updated = TRUE,
			    is_failed = FALSE,
			    error_message = NULL
			WHERE id = $1
		`, id, sub.Notes); err != nil {
			return domain.StagingRecord{}, false, fmt.Errorf("flag order for update: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sap_order_details WHERE order_id = $1`, id); err != nil {
			return domain.StagingRecord{}, false, fmt.Errorf("delete order details: %w", err)
		}
	}

	for _, d := range sub.Details {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sap_order_details (
				order_id, product, quantity, unit_price, discount, total, tax, cost_center, account
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			id, d.Product, d.Quantity, d.UnitPrice, d.Discount, d.Total, d.Tax, d.CostCenter, d.Account,
		); err != nil {
			return domain.StagingRecord{}, false, fmt.Errorf("insert order detail: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.StagingRecord{}, false, fmt.Errorf("commit upsert: %w", err)
	}

	rec, err = r.GetByID(ctx, id)
	if err != nil {
		return domain.StagingRecord{}, false, err
	}
	return rec, created, nil
}

func (r *StagingRepository) GetByID(ctx context.Context, id int64) (domain.StagingRecord, error) {
	return r.getRecord(ctx, `o.id = $1`, id)
}

func (r *StagingRepository) GetByExternalID(ctx context.Context, externalID string) (domain.StagingRecord, error) {
	return r.getRecord(ctx, `o.external_id = $1`, externalID)
}

func (r *StagingRepository) getRecord(ctx context.Context, predicate string, arg any) (domain.StagingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		rec          domain.StagingRecord
		errorMessage sql.NullString
		integratedAt sql.NullTime
		docEntry     sql.NullInt64
		docNum       sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			o.id, o.external_id, o.customer, o.order_date, o.salesperson, o.notes,
			o.enterprise, o.warehouse_id, o.doc_entry, o.doc_num,
			o.is_integrated, o.is_updated, o.is_failed, o.error_message, o.integration_date,
			o.created_at, o.salesperson_email, o.salesperson_id, o.series
		FROM sap_orders o
		WHERE `+predicate, arg).Scan(
		&rec.Order.ID, &rec.Order.ExternalID, &rec.Order.Customer, &rec.Order.OrderDate,
		&rec.Order.Salesperson, &rec.Order.Notes, &rec.Order.Enterprise, &rec.Order.WarehouseID,
		&docEntry, &docNum,
		&rec.Integrated, &rec.NeedsUpdate, &rec.Failed, &errorMessage, &integratedAt,
		&rec.CreatedAt, &rec.SalespersonEmail, &rec.SalespersonID, &rec.Series,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StagingRecord{}, domain.ErrOrderNotFound
		}
		return domain.StagingRecord{}, fmt.Errorf("select order: %w", err)
	}

	rec.Order.ERP = erpReference(docEntry, docNum)
	rec.ErrorMessage = errorMessage.String
	if integratedAt.Valid {
		ts := integratedAt.Time
		rec.IntegratedAt = &ts
	}

	details, err := r.loadDetails(ctx, rec.Order.ID)
	if err != nil {
		return domain.StagingRecord{}, err
	}
	rec.Order.Details = details
	return rec, nil
}

func (r *StagingRepository) loadDetails(ctx context.Context, orderID int64) ([]domain.IntegrationOrderDetail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product, quantity, unit_price, discount, total, tax, cost_center, account
		FROM sap_order_details
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order details: %w", err)
	}
	defer rows.Close()

	details := make([]domain.IntegrationOrderDetail, 0)
	for rows.Next() {
		d := domain.IntegrationOrderDetail{OrderID: orderID}
		if err := rows.Scan(&d.ID, &d.Product, &d.Quantity, &d.UnitPrice, &d.Discount, &d.Total, &d.Tax, &d.CostCenter, &d.Account); err != nil {
			return nil, fmt.Errorf("scan order detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order details: %w", err)
	}
	return details, nil
}

// queryOrders читает результат LEFT JOIN и собирает вложенную структуру,
// сохраняя порядок заказов и строк из ORDER BY.
func (r *StagingRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.IntegrationOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.IntegrationOrder, 0)
	positions := make(map[int64]int)
	for rows.Next() {
		var (
			o          domain.IntegrationOrder
			docEntry   sql.NullInt64
			docNum     sql.NullInt64
			detailID   sql.NullInt64
			product    sql.NullString
			quantity   decimal.NullDecimal
			unitPrice  decimal.NullDecimal
			discount   decimal.NullDecimal
			total      decimal.NullDecimal
			tax        decimal.NullDecimal
			costCenter sql.NullString
			account    sql.NullString
		)
		if err := rows.Scan(
			&o.ID, &o.ExternalID, &o.Customer, &o.OrderDate, &o.Salesperson, &o.Notes,
			&o.Enterprise, &o.WarehouseID, &docEntry, &docNum,
			&detailID, &product, &quantity, &unitPrice, &discount, &total, &tax,
			&costCenter, &account,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		pos, seen := positions[o.ID]
		if !seen {
			o.ERP = erpReference(docEntry, docNum)
			o.Details = make([]domain.IntegrationOrderDetail, 0)
			orders = append(orders, o)
			pos = len(orders) - 1
			positions[o.ID] = pos
		}

		if !detailID.Valid {
			continue
		}
		orders[pos].Details = append(orders[pos].Details, domain.IntegrationOrderDetail{
			ID:         detailID.Int64,
			OrderID:    o.ID,
			Product:    product.String,
			Quantity:   quantity.Decimal,
			UnitPrice:  unitPrice.Decimal,
			Discount:   discount.Decimal,
			Total:      total.Decimal,
			Tax:        tax.Decimal,
			CostCenter: costCenter.String,
			Account:    account.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// execSingleRow выполняет UPDATE одной строки и возвращает ErrOrderNotFound, если строка не найдена.
func (r *StagingRepository) execSingleRow(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrOrderNotFound)
	}
	return nil
}

func erpReference(docEntry, docNum sql.NullInt64) *domain.ERPReference {
	if !docEntry.Valid || !docNum.Valid {
		return nil
	}
	return &domain.ERPReference{DocEntry: int(docEntry.Int64), DocNum: int(docNum.Int64)}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

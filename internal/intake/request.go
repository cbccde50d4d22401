package intake

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const dateLayout = "2006-01-02"

type detailRequest struct {
	Product    string          `json:"product" validate:"required,max=150"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"gt=0"`
	Discount   decimal.Decimal `json:"discount" validate:"gte=0,lte=100"`
	Total      decimal.Decimal `json:"total" validate:"gt=0"`
	Tax        decimal.Decimal `json:"tax" validate:"gte=0"`
	CostCenter string          `json:"cost_center" validate:"max=50"`
	Account    string          `json:"account" validate:"max=50"`
}

type orderRequest struct {
	ExternalID       string          `json:"external_id" validate:"required,max=50"`
	Enterprise       string          `json:"enterprise" validate:"required"`
	WarehouseID      *int            `json:"id_warehouse" validate:"omitempty,gte=1"`
	Customer         string          `json:"customer" validate:"required,max=150"`
	OrderDate        string          `json:"order_date" validate:"required,datetime=2006-01-02"`
	Salesperson      string          `json:"salesperson" validate:"max=150"`
	SalespersonEmail string          `json:"salesperson_email" validate:"omitempty,email,max=150"`
	SalespersonID    int             `json:"salesperson_id" validate:"gte=0"`
	Series           int             `json:"series" validate:"gte=0"`
	Notes            string          `json:"notes" validate:"max=500"`
	Details          []detailRequest `json:"details" validate:"required,min=1,dive"`
}

// FieldError — ошибка валидации одного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// newValidator настраивает validator: имена полей из json-тегов, decimal
// сравнивается как число.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func fieldErrors(err error) []FieldError {
	var out []FieldError
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			out = append(out, FieldError{Field: trimRoot(e.Namespace()), Message: validationMessage(e)})
		}
	}
	return out
}

func trimRoot(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "invalid email format"
	case "datetime":
		return "must be a date in format " + e.Param()
	case "min":
		return "must contain at least " + e.Param() + " item(s)"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "invalid value"
	}
}

// toSubmission переводит проверенный запрос в доменную форму.
// Без id_warehouse заказ получает склад тенанта.
func (r orderRequest) toSubmission(tenant domain.TenantTarget) (domain.OrderSubmission, error) {
	date, err := time.Parse(dateLayout, r.OrderDate)
	if err != nil {
		return domain.OrderSubmission{}, fmt.Errorf("parse order_date: %w", err)
	}

	warehouse := tenant.WarehouseID
	if r.WarehouseID != nil {
		warehouse = *r.WarehouseID
	}

	details := make([]domain.IntegrationOrderDetail, 0, len(r.Details))
	for _, d := range r.Details {
		details = append(details, domain.IntegrationOrderDetail{
			Product:    strings.TrimSpace(d.Product),
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
			Discount:   d.Discount,
			Total:      d.Total,
			Tax:        d.Tax,
			CostCenter: strings.TrimSpace(d.CostCenter),
			Account:    strings.TrimSpace(d.Account),
		})
	}

	return domain.OrderSubmission{
		ExternalID:       strings.TrimSpace(r.ExternalID),
		Enterprise:       tenant.EnterpriseCode,
		WarehouseID:      warehouse,
		Customer:         strings.TrimSpace(r.Customer),
		OrderDate:        date,
		Salesperson:      strings.TrimSpace(r.Salesperson),
		SalespersonEmail: strings.TrimSpace(r.SalespersonEmail),
		SalespersonID:    r.SalespersonID,
		Series:           r.Series,
		Notes:            r.Notes,
		Details:          details,
	}, nil
}

type detailResponse struct {
	ID         int64           `json:"id"`
	Product    string          `json:"product"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	Tax        decimal.Decimal `json:"tax"`
	CostCenter string          `json:"cost_center,omitempty"`
	Account    string          `json:"account,omitempty"`
}

type orderResponse struct {
	ID               int64            `json:"id"`
	ExternalID       string           `json:"external_id"`
	Enterprise       string           `json:"enterprise"`
	WarehouseID      int              `json:"id_warehouse"`
	Customer         string           `json:"customer"`
	OrderDate        string           `json:"order_date"`
	Salesperson      string           `json:"salesperson,omitempty"`
	SalespersonEmail string           `json:"salesperson_email,omitempty"`
	SalespersonID    int              `json:"salesperson_id,omitempty"`
	Series           int              `json:"series,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	IsIntegrated     bool             `json:"is_integrated"`
	IsUpdated        bool             `json:"is_updated"`
	IsFailed         bool             `json:"is_failed"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	IntegrationDate  *time.Time       `json:"integration_date,omitempty"`
	DocEntry         *int             `json:"doc_entry,omitempty"`
	DocNum           *int             `json:"doc_num,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Details          []detailResponse `json:"details"`
}

func newOrderResponse(rec domain.StagingRecord) orderResponse {
	out := orderResponse{
		ID:               rec.Order.ID,
		ExternalID:       rec.Order.ExternalID,
		Enterprise:       rec.Order.Enterprise,
		WarehouseID:      rec.Order.WarehouseID,
		Customer:         rec.Order.Customer,
		OrderDate:        rec.Order.OrderDate.Format(dateLayout),
		Salesperson:      rec.Order.Salesperson,
		SalespersonEmail: rec.SalespersonEmail,
		SalespersonID:    rec.SalespersonID,
		Series:           rec.Series,
		Notes:            rec.Order.Notes,
		IsIntegrated:     rec.Integrated,
		IsUpdated:        rec.NeedsUpdate,
		IsFailed:         rec.Failed,
		ErrorMessage:     rec.ErrorMessage,
		IntegrationDate:  rec.IntegratedAt,
		CreatedAt:        rec.CreatedAt,
		Details:          make([]detailResponse, 0, len(rec.Order.Details)),
	}
	if rec.Order.ERP != nil {
		entry, num := rec.Order.ERP.DocEntry, rec.Order.ERP.DocNum
		out.DocEntry, out.DocNum = &entry, &num
	}
	for _, d := range rec.Order.Details {
		out.Details = append(out.Details, detailResponse{
			ID:         d.ID,
			Product:    d.Product,
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
			Discount:   d.Discount,
			Total:      d.Total,
			Tax:        d.Tax,
			CostCenter: d.CostCenter,
			Account:    d.Account,
		})
	}
	return out
}

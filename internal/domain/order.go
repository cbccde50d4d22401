package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxErrorMessageLength ограничивает длину текста ошибки, сохраняемого в staging.
	MaxErrorMessageLength = 500
	// FallbackErrorMessage подставляется, когда ошибка пришла без текста.
	FallbackErrorMessage = "sync failed without error detail"
)

// ERPReference — идентификаторы документа, присвоенные ERP при создании.
// DocEntry и DocNum появляются и хранятся только вместе.
type ERPReference struct {
	// DocEntry — внутренний ключ документа в ERP.
	DocEntry int
	// DocNum — номер документа, который видят пользователи.
	DocNum int
}

// Valid сообщает, что ссылка указывает на реальный документ.
func (r ERPReference) Valid() bool {
	return r.DocEntry > 0
}

// IntegrationOrderDetail — одна строка staged-заказа.
type IntegrationOrderDetail struct {
	ID        int64
	OrderID   int64
	Product   string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	// Discount — скидка в процентах, 0..100.
	Discount decimal.Decimal

	// Поля ниже хранятся в staging для учёта и в ERP не передаются.
	Total      decimal.Decimal
	Tax        decimal.Decimal
	CostCenter string
	Account    string
}

// IntegrationOrder — снимок staged-заказа, ожидающего синхронизации.
type IntegrationOrder struct {
	ID          int64
	ExternalID  string
	Customer    string
	OrderDate   time.Time
	Salesperson string
	Notes       string
	Enterprise  string
	WarehouseID int
	// ERP заполнен только после успешного создания документа и никогда не очищается.
	ERP     *ERPReference
	Details []IntegrationOrderDetail
}

// HasERPReference сообщает, создан ли уже документ в ERP.
func (o IntegrationOrder) HasERPReference() bool {
	return o.ERP != nil && o.ERP.Valid()
}

// StagingRecord — полное представление строки staging вместе со статусами.
type StagingRecord struct {
	Order IntegrationOrder

	Integrated   bool
	NeedsUpdate  bool
	Failed       bool
	ErrorMessage string
	IntegratedAt *time.Time
	CreatedAt    time.Time

	SalespersonEmail string
	SalespersonID    int
	Series           int
}

// OrderSubmission — заказ, пришедший из внешней системы через intake API.
type OrderSubmission struct {
	ExternalID       string
	Enterprise       string
	WarehouseID      int
	Customer         string
	OrderDate        time.Time
	Salesperson      string
	SalespersonEmail string
	SalespersonID    int
	Series           int
	Notes            string
	Details          []IntegrationOrderDetail
}

// NormalizeErrorMessage приводит текст ошибки к виду, пригодному для хранения:
// пустой текст заменяется на FallbackErrorMessage, длинный обрезается до MaxErrorMessageLength символов.
func NormalizeErrorMessage(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return FallbackErrorMessage
	}
	runes := []rune(msg)
	if len(runes) > MaxErrorMessageLength {
		return string(runes[:MaxErrorMessageLength])
	}
	return msg
}

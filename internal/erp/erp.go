// Package erp описывает возможности ERP, которые нужны синхронизации:
// сессия на базу тенанта, документ заказа и упорядоченный список его строк.
package erp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDocumentNotFound возвращается, если документа с таким ключом нет.
var ErrDocumentNotFound = errors.New("erp document not found")

// RejectedError — отказ ERP по бизнес-правилам с текстом ошибки самой ERP.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("erp rejected request (code %d): %s", e.Code, e.Message)
}

// Line — строка документа.
type Line struct {
	// LineNum присваивается ERP; -1 у строк, ещё не сохранённых в ERP.
	LineNum         int
	ItemCode        string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	WarehouseCode   string
}

// Document — заказ клиента в ERP.
type Document struct {
	DocEntry        int
	DocNum          int
	CardCode        string
	DocDate         time.Time
	DocDueDate      time.Time
	TaxDate         time.Time
	Comments        string
	SalesPersonCode *int
	Lines           Lines
}

// Clone возвращает глубокую копию документа.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Lines = NewLines(d.Lines.items...)
	if d.SalesPersonCode != nil {
		code := *d.SalesPersonCode
		out.SalesPersonCode = &code
	}
	return &out
}

// Session — открытая сессия ERP для одной базы. Не потокобезопасна.
type Session interface {
	// AddOrder создаёт документ и возвращает присвоенный DocEntry.
	AddOrder(ctx context.Context, doc *Document) (int, error)
	// GetOrder читает документ по ключу или возвращает ErrDocumentNotFound.
	GetOrder(ctx context.Context, docEntry int) (*Document, error)
	// UpdateOrder сохраняет шапку и строки документа целиком.
	UpdateOrder(ctx context.Context, doc *Document) error
	// FindSalesperson выполняет запрос к справочнику продавцов по фильтру.
	FindSalesperson(ctx context.Context, filter string) (code int, found bool, err error)
	// Close завершает сессию.
	Close(ctx context.Context) error
}

// Connector открывает сессии ERP для баз тенантов.
type Connector interface {
	Connect(ctx context.Context, database string) (Session, error)
}

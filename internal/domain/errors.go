package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки синхронизации.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration_error"
	KindConnection    ErrorKind = "connection_error"
	KindEmptyOrder    ErrorKind = "empty_order"
	KindMissingKey    ErrorKind = "missing_key"
	KindERPRejected   ErrorKind = "erp_rejected"
	KindNotFoundInERP ErrorKind = "not_found_in_erp"
	KindInternal      ErrorKind = "internal"
)

var (
	// ErrConfiguration — некорректная конфигурация, цикл не запускается.
	ErrConfiguration = &SyncError{Kind: KindConfiguration}
	// ErrConnection — не удалось открыть сессию ERP для тенанта.
	ErrConnection = &SyncError{Kind: KindConnection}
	// ErrEmptyOrder — у заказа нет ни одной строки.
	ErrEmptyOrder = &SyncError{Kind: KindEmptyOrder}
	// ErrMissingKey — у заказа на обновление нет DocEntry.
	ErrMissingKey = &SyncError{Kind: KindMissingKey}
	// ErrERPRejected — ERP отклонила документ по бизнес-правилам.
	ErrERPRejected = &SyncError{Kind: KindERPRejected}
	// ErrNotFoundInERP — документ по сохранённому DocEntry не найден.
	ErrNotFoundInERP = &SyncError{Kind: KindNotFoundInERP}

	// ErrOrderNotFound возвращается, если заказ не найден в staging.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateExternalID — заказ с таким внешним идентификатором уже существует.
	ErrDuplicateExternalID = errors.New("order with this external id already exists")
)

// SyncError — результат неудачной синхронизации: вид ошибки и текст для оператора.
// DocEntry ненулевой, если документ в ERP уже создан, но не подтверждён.
type SyncError struct {
	Kind     ErrorKind
	Message  string
	Err      error
	DocEntry int
}

// NewSyncError создаёт ошибку указанного вида.
func NewSyncError(kind ErrorKind, format string, args ...any) *SyncError {
	return &SyncError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapSyncError оборачивает причину в ошибку указанного вида.
func WrapSyncError(kind ErrorKind, err error) *SyncError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{Kind: kind, Message: msg, Err: err}
}

func (e *SyncError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, чтобы работал errors.Is(err, ErrEmptyOrder).
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf возвращает вид ошибки синхронизации; для посторонних ошибок — KindInternal.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// CreatedDocEntryOf возвращает DocEntry документа, созданного до ошибки, или 0.
func CreatedDocEntryOf(err error) int {
	var se *SyncError
	if errors.As(err, &se) {
		return se.DocEntry
	}
	return 0
}

// MessageOf возвращает текст ошибки для сохранения в staging.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

package domain

// OutcomeKind перечисляет результаты обработки одного заказа.
type OutcomeKind string

const (
	OutcomeCreated      OutcomeKind = "created"
	OutcomeUpdated      OutcomeKind = "updated"
	OutcomeCreateFailed OutcomeKind = "create_failed"
	OutcomeUpdateFailed OutcomeKind = "update_failed"
)

// SyncOutcome — результат одной попытки синхронизации заказа.
// Ref заполнен только для OutcomeCreated, Message и ErrorKind — только для неудач.
// CreatedDocEntry указывает на документ, который ERP создала до ошибки создания.
type SyncOutcome struct {
	Kind            OutcomeKind
	Ref             ERPReference
	ErrorKind       ErrorKind
	Message         string
	CreatedDocEntry int
}

// Created создаёт успешный результат создания.
func Created(ref ERPReference) SyncOutcome {
	return SyncOutcome{Kind: OutcomeCreated, Ref: ref}
}

// Updated создаёт успешный результат обновления.
func Updated() SyncOutcome {
	return SyncOutcome{Kind: OutcomeUpdated}
}

// CreateFailed создаёт результат неудачного создания.
func CreateFailed(err error) SyncOutcome {
	return SyncOutcome{
		Kind:            OutcomeCreateFailed,
		ErrorKind:       KindOf(err),
		Message:         MessageOf(err),
		CreatedDocEntry: CreatedDocEntryOf(err),
	}
}

// UpdateFailed создаёт результат неудачного обновления.
func UpdateFailed(err error) SyncOutcome {
	return SyncOutcome{Kind: OutcomeUpdateFailed, ErrorKind: KindOf(err), Message: MessageOf(err)}
}

// Failed сообщает, что результат — ошибка.
func (o SyncOutcome) Failed() bool {
	return o.Kind == OutcomeCreateFailed || o.Kind == OutcomeUpdateFailed
}

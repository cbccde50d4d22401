package kafka

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// DefaultTopic — топик событий синхронизации по умолчанию.
const DefaultTopic = "ordersync.events"

// Заголовки сообщений.
const (
	HeaderEventType = "x-event-type"
	HeaderCycleID   = "x-cycle-id"
)

// SyncEventMessage — JSON-представление domain.SyncEvent в топике.
type SyncEventMessage struct {
	EventID    string               `json:"event_id"`
	EventType  domain.SyncEventType `json:"event_type"`
	CycleID    string               `json:"cycle_id"`
	Enterprise string               `json:"enterprise,omitempty"`
	OrderID    int64                `json:"order_id,omitempty"`
	ExternalID string               `json:"external_id,omitempty"`
	DocEntry   int                  `json:"doc_entry,omitempty"`
	DocNum     int                  `json:"doc_num,omitempty"`
	Message    string               `json:"message,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// NewSyncEventMessage присваивает событию новый event_id.
func NewSyncEventMessage(event domain.SyncEvent) SyncEventMessage {
	msg := SyncEventMessage{
		EventID:    uuid.NewString(),
		EventType:  event.Type,
		CycleID:    event.CycleID,
		Enterprise: event.Enterprise,
		OrderID:    event.OrderID,
		ExternalID: event.ExternalID,
		Message:    event.Message,
		OccurredAt: event.OccurredAt.UTC(),
	}
	if event.ERP != nil {
		msg.DocEntry = event.ERP.DocEntry
		msg.DocNum = event.ERP.DocNum
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	return msg
}

// PartitionKey группирует события одного заказа в одной партиции;
// события цикла идут по cycle id.
func (m SyncEventMessage) PartitionKey() string {
	if m.OrderID > 0 {
		return m.Enterprise + "/" + strconv.FormatInt(m.OrderID, 10)
	}
	return "cycle/" + m.CycleID
}

package ordersync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	erpmemory "github.com/vladislavdragonenkov/ordersync/internal/erp/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "ordersync-test")
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func detail(product, qty, price, disc string) domain.IntegrationOrderDetail {
	return domain.IntegrationOrderDetail{
		Product:   product,
		Quantity:  dec(qty),
		UnitPrice: dec(price),
		Discount:  dec(disc),
	}
}

var orderDate = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

func stagedOrder(id int64, details ...domain.IntegrationOrderDetail) domain.IntegrationOrder {
	return domain.IntegrationOrder{
		ID:          id,
		ExternalID:  "ZOHO-" + string(rune('A'+id%26)),
		Customer:    "C100",
		OrderDate:   orderDate,
		Enterprise:  "VINESA",
		WarehouseID: 3,
		Details:     details,
	}
}

type markCall struct {
	op      string
	orderID int64
	ref     domain.ERPReference
	message string
}

// stubStagingRepo отдаёт заранее заданные заказы и записывает вызовы Mark*.
type stubStagingRepo struct {
	mu sync.Mutex

	pendingCreate map[string][]domain.IntegrationOrder
	pendingUpdate map[string][]domain.IntegrationOrder
	fetchErr      map[string]error
	markErr       error

	calls []markCall
}

func newStubStagingRepo() *stubStagingRepo {
	return &stubStagingRepo{
		pendingCreate: make(map[string][]domain.IntegrationOrder),
		pendingUpdate: make(map[string][]domain.IntegrationOrder),
		fetchErr:      make(map[string]error),
	}
}

func (s *stubStagingRepo) FetchPendingCreate(_ context.Context, enterprise string, _ int) ([]domain.IntegrationOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fetchErr[enterprise]; err != nil {
		return nil, err
	}
	return s.pendingCreate[enterprise], nil
}

func (s *stubStagingRepo) FetchPendingUpdate(_ context.Context, enterprise string, _ int) ([]domain.IntegrationOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fetchErr[enterprise]; err != nil {
		return nil, err
	}
	return s.pendingUpdate[enterprise], nil
}

func (s *stubStagingRepo) MarkCreated(_ context.Context, orderID int64, ref domain.ERPReference) error {
	return s.record(markCall{op: "created", orderID: orderID, ref: ref})
}

func (s *stubStagingRepo) MarkUpdated(_ context.Context, orderID int64) error {
	return s.record(markCall{op: "updated", orderID: orderID})
}

func (s *stubStagingRepo) MarkCreateFailed(_ context.Context, orderID int64, message string) error {
	return s.record(markCall{op: "create_failed", orderID: orderID, message: message})
}

func (s *stubStagingRepo) MarkUpdateFailed(_ context.Context, orderID int64, message string) error {
	return s.record(markCall{op: "update_failed", orderID: orderID, message: message})
}

func (s *stubStagingRepo) record(call markCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.markErr
}

func (s *stubStagingRepo) recorded() []markCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]markCall(nil), s.calls...)
}

// stubPublisher собирает опубликованные события.
type stubPublisher struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	fail   bool
}

func (p *stubPublisher) Publish(_ context.Context, event domain.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) types() []domain.SyncEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SyncEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// unreadableSession принимает документы, но не может их перечитать.
type unreadableSession struct {
	erp.Session
	err error
}

func (s unreadableSession) GetOrder(context.Context, int) (*erp.Document, error) {
	return nil, s.err
}

// unreadableConnector выдаёт сессии встроенной ERP с отказом на чтение.
type unreadableConnector struct {
	*erpmemory.Connector
	err error
}

func (c unreadableConnector) Connect(ctx context.Context, database string) (erp.Session, error) {
	sess, err := c.Connector.Connect(ctx, database)
	if err != nil {
		return nil, err
	}
	return unreadableSession{Session: sess, err: c.err}, nil
}

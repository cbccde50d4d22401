// Package memory — ERP в памяти для локального запуска и тестов синхронизации.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/ordersync/internal/erp"
)

const (
	codeFilterPrefix = "SalesEmployeeCode eq "
	nameFilterPrefix = "SalesEmployeeName eq "
)

var _ erp.Connector = (*Connector)(nil)

// Connector хранит документы и справочники продавцов по базам.
type Connector struct {
	mu sync.Mutex

	docs        map[string]map[int]*erp.Document
	salespeople map[string]map[int]string
	connectErr  map[string]error
	rejectItems map[string]string

	nextEntry   int
	docNumStart int

	connects     []string
	queries      []string
	openSessions int
}

// NewConnector создаёт пустую ERP. Номера документов начинаются с docNumStart.
func NewConnector(docNumStart int) *Connector {
	return &Connector{
		docs:        make(map[string]map[int]*erp.Document),
		salespeople: make(map[string]map[int]string),
		connectErr:  make(map[string]error),
		rejectItems: make(map[string]string),
		docNumStart: docNumStart,
	}
}

// Connect открывает сессию для базы.
func (c *Connector) Connect(_ context.Context, database string) (erp.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects = append(c.connects, database)
	if err := c.connectErr[database]; err != nil {
		return nil, err
	}
	c.openSessions++
	return &session{conn: c, database: database}, nil
}

// SetSalespeople задаёт справочник продавцов базы: код -> имя.
func (c *Connector) SetSalespeople(database string, people map[int]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := make(map[int]string, len(people))
	for code, name := range people {
		table[code] = name
	}
	c.salespeople[database] = table
}

// FailConnect заставляет Connect для базы возвращать err.
func (c *Connector) FailConnect(database string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr[database] = err
}

// RejectItem заставляет ERP отклонять документы, содержащие товар itemCode.
func (c *Connector) RejectItem(itemCode, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectItems[itemCode] = message
}

// PutDocument кладёт готовый документ в базу и возвращает его DocEntry.
func (c *Connector) PutDocument(database string, doc *erp.Document) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(database, doc.Clone())
}

// Document возвращает копию документа.
func (c *Connector) Document(database string, docEntry int) (*erp.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[database][docEntry]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Documents возвращает копии всех документов базы по возрастанию DocEntry.
func (c *Connector) Documents(database string) []*erp.Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]int, 0, len(c.docs[database]))
	for entry := range c.docs[database] {
		entries = append(entries, entry)
	}
	sort.Ints(entries)

	out := make([]*erp.Document, 0, len(entries))
	for _, entry := range entries {
		out = append(out, c.docs[database][entry].Clone())
	}
	return out
}

// Connects возвращает базы, для которых вызывался Connect, в порядке вызовов.
func (c *Connector) Connects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.connects...)
}

// Queries возвращает все выполненные фильтры справочника продавцов.
func (c *Connector) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// OpenSessions возвращает число незакрытых сессий.
func (c *Connector) OpenSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openSessions
}

// store сохраняет документ; вызывается под блокировкой.
func (c *Connector) store(database string, doc *erp.Document) int {
	c.nextEntry++
	doc.DocEntry = c.nextEntry
	doc.DocNum = c.docNumStart + c.nextEntry
	lines := doc.Lines.All()
	for i := range lines {
		lines[i].LineNum = i
	}
	doc.Lines = erp.NewLines(lines...)

	if c.docs[database] == nil {
		c.docs[database] = make(map[int]*erp.Document)
	}
	c.docs[database][doc.DocEntry] = doc
	return doc.DocEntry
}

// rejection проверяет строки документа; вызывается под блокировкой.
func (c *Connector) rejection(doc *erp.Document) error {
	for _, line := range doc.Lines.All() {
		if msg, ok := c.rejectItems[line.ItemCode]; ok {
			return &erp.RejectedError{Code: -10, Message: msg}
		}
	}
	return nil
}

type session struct {
	conn     *Connector
	database string
	closed   bool
}

func (s *session) AddOrder(_ context.Context, doc *erp.Document) (int, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if err := s.conn.rejection(doc); err != nil {
		return 0, err
	}
	return s.conn.store(s.database, doc.Clone()), nil
}

func (s *session) GetOrder(_ context.Context, docEntry int) (*erp.Document, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	doc, ok := s.conn.docs[s.database][docEntry]
	if !ok {
		return nil, erp.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *session) UpdateOrder(_ context.Context, doc *erp.Document) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if _, ok := s.conn.docs[s.database][doc.DocEntry]; !ok {
		return erp.ErrDocumentNotFound
	}
	if err := s.conn.rejection(doc); err != nil {
		return err
	}

	stored := doc.Clone()
	lines := stored.Lines.All()
	next := 0
	for _, l := range lines {
		if l.LineNum >= next {
			next = l.LineNum + 1
		}
	}
	for i := range lines {
		if lines[i].LineNum < 0 {
			lines[i].LineNum = next
			next++
		}
	}
	stored.Lines = erp.NewLines(lines...)
	s.conn.docs[s.database][doc.DocEntry] = stored
	return nil
}

func (s *session) FindSalesperson(_ context.Context, filter string) (int, bool, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	s.conn.queries = append(s.conn.queries, filter)
	table := s.conn.salespeople[s.database]

	if raw, ok := strings.CutPrefix(filter, codeFilterPrefix); ok {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false, fmt.Errorf("invalid salesperson code filter %q", filter)
		}
		_, found := table[code]
		return code, found, nil
	}

	if raw, ok := strings.CutPrefix(filter, nameFilterPrefix); ok {
		if len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
			return 0, false, fmt.Errorf("invalid salesperson name filter %q", filter)
		}
		name := strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
		codes := make([]int, 0, 1)
		for code, n := range table {
			if n == name {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			return 0, false, nil
		}
		sort.Ints(codes)
		return codes[0], true, nil
	}

	return 0, false, fmt.Errorf("unsupported salesperson filter %q", filter)
}

func (s *session) Close(context.Context) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.openSessions--
	return nil
}

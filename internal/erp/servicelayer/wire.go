package servicelayer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersync/internal/erp"
)

const dateLayout = "2006-01-02"

// noSalesperson — значение SalesPersonCode, которым Service Layer обозначает «не назначен».
const noSalesperson = -1

// number сериализует decimal без кавычек: Service Layer не принимает числа строками.
type number decimal.Decimal

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

func (n *number) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*n = number(d)
	return nil
}

// date принимает и "2006-01-02", и полную метку времени, отдаёт только дату.
type date time.Time

func (d date) MarshalJSON() ([]byte, error) {
	t := time.Time(d)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(dateLayout))
}

func (d *date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		*d = date{}
		return nil
	}
	for _, layout := range []string{dateLayout, "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			*d = date(t)
			return nil
		}
	}
	return fmt.Errorf("unsupported date %q", raw)
}

type documentLine struct {
	LineNum         *int   `json:"LineNum,omitempty"`
	ItemCode        string `json:"ItemCode"`
	Quantity        number `json:"Quantity"`
	UnitPrice       number `json:"UnitPrice"`
	DiscountPercent number `json:"DiscountPercent"`
	WarehouseCode   string `json:"WarehouseCode,omitempty"`
}

type order struct {
	DocEntry        int            `json:"DocEntry,omitempty"`
	DocNum          int            `json:"DocNum,omitempty"`
	CardCode        string         `json:"CardCode"`
	DocDate         date           `json:"DocDate"`
	DocDueDate      date           `json:"DocDueDate"`
	TaxDate         date           `json:"TaxDate"`
	Comments        string         `json:"Comments"`
	SalesPersonCode *int           `json:"SalesPersonCode,omitempty"`
	DocumentLines   []documentLine `json:"DocumentLines"`
}

type loginRequest struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

type salesPersonPage struct {
	Value []struct {
		SalesEmployeeCode int `json:"SalesEmployeeCode"`
	} `json:"value"`
}

// errorEnvelope — тело ошибки Service Layer. Старые версии кладут текст в
// message.value, новые отдают message строкой.
type errorEnvelope struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message json.RawMessage `json:"message"`
	} `json:"error"`
}

func (e errorEnvelope) code() int {
	var n int
	if err := json.Unmarshal(e.Error.Code, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(e.Error.Code, &s); err == nil {
		_, _ = fmt.Sscanf(s, "%d", &n)
	}
	return n
}

func (e errorEnvelope) message() string {
	var nested struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(e.Error.Message, &nested); err == nil && nested.Value != "" {
		return nested.Value
	}
	var flat string
	if err := json.Unmarshal(e.Error.Message, &flat); err == nil {
		return flat
	}
	return ""
}

func toWire(doc *erp.Document) order {
	out := order{
		CardCode:      doc.CardCode,
		DocDate:       date(doc.DocDate),
		DocDueDate:    date(doc.DocDueDate),
		TaxDate:       date(doc.TaxDate),
		Comments:      doc.Comments,
		DocumentLines: make([]documentLine, 0, doc.Lines.Count()),
	}
	if doc.SalesPersonCode != nil {
		code := *doc.SalesPersonCode
		out.SalesPersonCode = &code
	}
	for _, l := range doc.Lines.All() {
		wl := documentLine{
			ItemCode:        l.ItemCode,
			Quantity:        number(l.Quantity),
			UnitPrice:       number(l.UnitPrice),
			DiscountPercent: number(l.DiscountPercent),
			WarehouseCode:   strings.TrimSpace(l.WarehouseCode),
		}
		// Строки без LineNum Service Layer считает новыми.
		if l.LineNum >= 0 {
			num := l.LineNum
			wl.LineNum = &num
		}
		out.DocumentLines = append(out.DocumentLines, wl)
	}
	return out
}

func fromWire(o order) *erp.Document {
	doc := &erp.Document{
		DocEntry:   o.DocEntry,
		DocNum:     o.DocNum,
		CardCode:   o.CardCode,
		DocDate:    time.Time(o.DocDate),
		DocDueDate: time.Time(o.DocDueDate),
		TaxDate:    time.Time(o.TaxDate),
		Comments:   o.Comments,
	}
	if o.SalesPersonCode != nil && *o.SalesPersonCode != noSalesperson {
		code := *o.SalesPersonCode
		doc.SalesPersonCode = &code
	}
	lines := make([]erp.Line, 0, len(o.DocumentLines))
	for i, wl := range o.DocumentLines {
		num := i
		if wl.LineNum != nil {
			num = *wl.LineNum
		}
		lines = append(lines, erp.Line{
			LineNum:         num,
			ItemCode:        wl.ItemCode,
			Quantity:        decimal.Decimal(wl.Quantity),
			UnitPrice:       decimal.Decimal(wl.UnitPrice),
			DiscountPercent: decimal.Decimal(wl.DiscountPercent),
			WarehouseCode:   wl.WarehouseCode,
		})
	}
	doc.Lines = erp.NewLines(lines...)
	return doc
}

package servicelayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/erp"
)

type fakeServiceLayer struct {
	mu       sync.Mutex
	orders   map[int]map[string]any
	requests []string
	patches  []http.Header
	logouts  int
}

func newFakeServiceLayer(t *testing.T) (*fakeServiceLayer, *httptest.Server) {
	t.Helper()

	f := &fakeServiceLayer{orders: make(map[int]map[string]any)}
	mux := http.NewServeMux()
	mux.HandleFunc("/b1s/v1/", f.handle)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeSLError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":{"code":`+jsonInt(code)+`,"message":{"lang":"en-us","value":`+jsonString(msg)+`}}}`)
}

func jsonInt(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func jsonString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func (f *fakeServiceLayer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/b1s/v1")
	f.requests = append(f.requests, r.Method+" "+path)

	if path == "/Login" {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			writeSLError(w, http.StatusUnauthorized, 100000027, "Fail to get DB Credentials from SLD")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "B1SESSION", Value: "sess-" + req.CompanyDB, Path: "/b1s/v1"})
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"SessionId":"sess","Version":"1000190","SessionTimeout":30}`)
		return
	}

	if c, err := r.Cookie("B1SESSION"); err != nil || c.Value == "" {
		writeSLError(w, http.StatusUnauthorized, 301, "Invalid session")
		return
	}

	switch {
	case path == "/Logout":
		f.logouts++
		w.WriteHeader(http.StatusNoContent)

	case path == "/Orders" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, l := range body["DocumentLines"].([]any) {
			if l.(map[string]any)["ItemCode"] == "INACTIVE" {
				writeSLError(w, http.StatusBadRequest, -5002, "Item 'INACTIVE' is inactive")
				return
			}
		}
		entry := len(f.orders) + 1
		body["DocEntry"] = entry
		body["DocNum"] = 5000 + entry
		for i, l := range body["DocumentLines"].([]any) {
			l.(map[string]any)["LineNum"] = i
		}
		f.orders[entry] = body
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)

	case strings.HasPrefix(path, "/Orders(") && r.Method == http.MethodGet:
		var entry int
		_, _ = fmt.Sscanf(path, "/Orders(%d)", &entry)
		o, ok := f.orders[entry]
		if !ok {
			writeSLError(w, http.StatusNotFound, -2028, "No matching records found (ODBC -2028)")
			return
		}
		_ = json.NewEncoder(w).Encode(o)

	case strings.HasPrefix(path, "/Orders(") && r.Method == http.MethodPatch:
		var entry int
		_, _ = fmt.Sscanf(path, "/Orders(%d)", &entry)
		f.patches = append(f.patches, r.Header.Clone())
		o, ok := f.orders[entry]
		if !ok {
			writeSLError(w, http.StatusNotFound, -2028, "No matching records found (ODBC -2028)")
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			o[k] = v
		}
		w.WriteHeader(http.StatusNoContent)

	case path == "/SalesPersons":
		filter := r.URL.Query().Get("$filter")
		if filter == "SalesEmployeeName eq 'Ana'" || filter == "SalesEmployeeCode eq 5" {
			_, _ = io.WriteString(w, `{"value":[{"SalesEmployeeCode":5}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[]}`)

	default:
		writeSLError(w, http.StatusNotFound, -1, "unknown resource")
	}
}

func (f *fakeServiceLayer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "servicelayer-test")
}

func newTestConnector(t *testing.T, srv *httptest.Server, password string) *Connector {
	t.Helper()
	c, err := NewConnector(srv.URL+"/b1s/v1/", Credentials{UserName: "manager", Password: password},
		WithLogger(quietLogger()),
		WithTimeout(5*time.Second),
		WithRateLimit(1000, 10),
	)
	require.NoError(t, err)
	return c
}

func TestSession_CreateReadUpdateRoundTrip(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeServiceLayer(t)
	conn := newTestConnector(t, srv, "secret")
	ctx := context.Background()

	sess, err := conn.Connect(ctx, "SBO_VINESA")
	require.NoError(t, err)

	code := 5
	day := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	doc := &erp.Document{
		CardCode:        "C100",
		DocDate:         day,
		DocDueDate:      day,
		TaxDate:         day,
		Comments:        "ordersync order_id=42",
		SalesPersonCode: &code,
		Lines: erp.NewLines(
			erp.Line{LineNum: -1, ItemCode: "X1", Quantity: decimal.RequireFromString("2.5"), UnitPrice: decimal.NewFromInt(10), WarehouseCode: "3"},
			erp.Line{LineNum: -1, ItemCode: "X2", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("4.99"), DiscountPercent: decimal.NewFromInt(10), WarehouseCode: "3"},
		),
	}

	entry, err := sess.AddOrder(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, 1, entry)

	got, err := sess.GetOrder(ctx, entry)
	require.NoError(t, err)
	require.Equal(t, 5001, got.DocNum)
	require.Equal(t, "C100", got.CardCode)
	require.True(t, got.DocDueDate.Equal(day))
	require.NotNil(t, got.SalesPersonCode)
	require.Equal(t, 5, *got.SalesPersonCode)
	require.Equal(t, 2, got.Lines.Count())
	require.Equal(t, 1, got.Lines.At(1).LineNum)
	require.True(t, got.Lines.At(0).Quantity.Equal(decimal.RequireFromString("2.5")))
	require.True(t, got.Lines.At(1).UnitPrice.Equal(decimal.RequireFromString("4.99")))

	require.NoError(t, got.Lines.Delete(1))
	got.Lines.Append(erp.Line{ItemCode: "X3", Quantity: decimal.NewFromInt(7), UnitPrice: decimal.NewFromInt(1), WarehouseCode: "3"})
	require.NoError(t, sess.UpdateOrder(ctx, got))

	fake.mu.Lock()
	require.Len(t, fake.patches, 1)
	require.Equal(t, "true", fake.patches[0].Get(replaceCollections))
	lines := fake.orders[1]["DocumentLines"].([]any)
	fake.mu.Unlock()
	require.Len(t, lines, 2)
	require.Equal(t, float64(0), lines[0].(map[string]any)["LineNum"], "kept lines carry their LineNum")
	_, hasNum := lines[1].(map[string]any)["LineNum"]
	require.False(t, hasNum, "new lines are sent without LineNum")
	require.Equal(t, float64(7), lines[1].(map[string]any)["Quantity"], "decimals are sent as JSON numbers")

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Close(ctx))
	fake.mu.Lock()
	require.Equal(t, 1, fake.logouts)
	fake.mu.Unlock()
}

func TestSession_RejectionCarriesERPMessage(t *testing.T) {
	t.Parallel()

	_, srv := newFakeServiceLayer(t)
	conn := newTestConnector(t, srv, "secret")
	sess, err := conn.Connect(context.Background(), "SBO_VINESA")
	require.NoError(t, err)

	_, err = sess.AddOrder(context.Background(), &erp.Document{
		CardCode: "C100",
		Lines:    erp.NewLines(erp.Line{LineNum: -1, ItemCode: "INACTIVE", Quantity: decimal.NewFromInt(1)}),
	})
	var rejected *erp.RejectedError
	require.True(t, errors.As(err, &rejected), "got %v", err)
	require.Equal(t, -5002, rejected.Code)
	require.Equal(t, "Item 'INACTIVE' is inactive", rejected.Message)
}

func TestSession_MissingOrder(t *testing.T) {
	t.Parallel()

	_, srv := newFakeServiceLayer(t)
	conn := newTestConnector(t, srv, "secret")
	sess, err := conn.Connect(context.Background(), "SBO_VINESA")
	require.NoError(t, err)

	_, err = sess.GetOrder(context.Background(), 404)
	require.ErrorIs(t, err, erp.ErrDocumentNotFound)

	err = sess.UpdateOrder(context.Background(), &erp.Document{DocEntry: 404})
	require.ErrorIs(t, err, erp.ErrDocumentNotFound)
}

func TestSession_FindSalesperson(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeServiceLayer(t)
	conn := newTestConnector(t, srv, "secret")
	sess, err := conn.Connect(context.Background(), "SBO_VINESA")
	require.NoError(t, err)

	code, found, err := sess.FindSalesperson(context.Background(), "SalesEmployeeName eq 'Ana'")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 5, code)

	_, found, err = sess.FindSalesperson(context.Background(), "SalesEmployeeName eq 'Nobody'")
	require.NoError(t, err)
	require.False(t, found)

	require.Contains(t, fake.seen(), "GET /SalesPersons")
}

func TestConnector_LoginFailure(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeServiceLayer(t)
	conn := newTestConnector(t, srv, "wrong")

	_, err := conn.Connect(context.Background(), "SBO_VINESA")
	require.Error(t, err)
	require.Contains(t, err.Error(), "login to SBO_VINESA")
	require.Contains(t, err.Error(), "Fail to get DB Credentials")
	require.Equal(t, []string{"POST /Login"}, fake.seen())
}

func TestNewConnector_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewConnector("not a url", Credentials{UserName: "manager"})
	require.Error(t, err)

	_, err = NewConnector("https://sap.local:50000/b1s/v1", Credentials{})
	require.Error(t, err)
}

func TestResponseError_FlatMessageAndServerError(t *testing.T) {
	t.Parallel()

	err := responseError(http.StatusBadRequest, []byte(`{"error":{"code":"-10","message":"Invalid BP code"}}`))
	var rejected *erp.RejectedError
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, -10, rejected.Code)
	require.Equal(t, "Invalid BP code", rejected.Message)

	err = responseError(http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	require.False(t, errors.As(err, &rejected))
	require.Contains(t, err.Error(), "HTTP 502")
}

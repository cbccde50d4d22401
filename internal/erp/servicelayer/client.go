// Package servicelayer реализует erp.Connector поверх REST API SAP Business One
// Service Layer: одна cookie-сессия на базу тенанта.
package servicelayer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/ordersync/internal/erp"
)

const (
	defaultTimeout     = 30 * time.Second
	maxResponseBytes   = 4 << 20
	replaceCollections = "B1S-ReplaceCollectionsOnPatch"
)

// Credentials — учётные данные пользователя Service Layer.
type Credentials struct {
	UserName string
	Password string
}

// Options настраивает Connector.
type Options struct {
	Logger             *log.Entry
	Timeout            time.Duration
	InsecureSkipVerify bool
	// RateLimit ограничивает число запросов в секунду на все сессии; 0 — без ограничения.
	RateLimit float64
	RateBurst int
	Transport http.RoundTripper
}

// Option изменяет Options.
type Option func(*Options)

// WithLogger задаёт логгер коннектора.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithTimeout задаёт таймаут одного HTTP-запроса.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithInsecureSkipVerify отключает проверку TLS-сертификата (самоподписанные сертификаты SAP).
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *Options) {
		o.InsecureSkipVerify = skip
	}
}

// WithRateLimit ограничивает частоту запросов к Service Layer.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithTransport подменяет HTTP-транспорт.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *Options) {
		if rt != nil {
			o.Transport = rt
		}
	}
}

// Connector открывает сессии Service Layer.
type Connector struct {
	baseURL   string
	creds     Credentials
	logger    *log.Entry
	timeout   time.Duration
	transport http.RoundTripper
	limiter   *rate.Limiter
}

var _ erp.Connector = (*Connector)(nil)

// NewConnector создаёт коннектор для baseURL вида https://host:50000/b1s/v1.
func NewConnector(baseURL string, creds Credentials, opts ...Option) (*Connector, error) {
	options := Options{
		Logger:  log.WithField("component", "erp-servicelayer"),
		Timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid service layer url %q", baseURL)
	}
	if strings.TrimSpace(creds.UserName) == "" {
		return nil, errors.New("service layer user name is required")
	}

	transport := options.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if options.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed SAP certificates
		}
		transport = t
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.RateLimit > 0 {
		burst := options.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RateLimit), burst)
	}

	return &Connector{
		baseURL:   base,
		creds:     creds,
		logger:    options.Logger,
		timeout:   options.Timeout,
		transport: transport,
		limiter:   limiter,
	}, nil
}

// Connect выполняет Login в базу database и возвращает сессию с собственным cookie jar.
func (c *Connector) Connect(ctx context.Context, database string) (erp.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	s := &session{
		connector: c,
		database:  database,
		http: &http.Client{
			Jar:       jar,
			Timeout:   c.timeout,
			Transport: c.transport,
		},
		logger: c.logger.WithField("database", database),
	}

	body := loginRequest{CompanyDB: database, UserName: c.creds.UserName, Password: c.creds.Password}
	status, payload, err := s.do(ctx, http.MethodPost, "/Login", body, nil)
	if err != nil {
		return nil, fmt.Errorf("login to %s: %w", database, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login to %s: %w", database, responseError(status, payload))
	}

	s.logger.Debug("service layer session opened")
	return s, nil
}

type session struct {
	connector *Connector
	database  string
	http      *http.Client
	logger    *log.Entry

	closeOnce sync.Once
	closeErr  error
}

func (s *session) AddOrder(ctx context.Context, doc *erp.Document) (int, error) {
	status, payload, err := s.do(ctx, http.MethodPost, "/Orders", toWire(doc), nil)
	if err != nil {
		return 0, fmt.Errorf("add order: %w", err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return 0, responseError(status, payload)
	}

	var created order
	if err := json.Unmarshal(payload, &created); err != nil {
		return 0, fmt.Errorf("decode created order: %w", err)
	}
	if created.DocEntry <= 0 {
		return 0, errors.New("service layer returned order without DocEntry")
	}
	return created.DocEntry, nil
}

func (s *session) GetOrder(ctx context.Context, docEntry int) (*erp.Document, error) {
	status, payload, err := s.do(ctx, http.MethodGet, orderPath(docEntry), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", docEntry, err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("order %d: %w", docEntry, erp.ErrDocumentNotFound)
	}
	if status != http.StatusOK {
		return nil, responseError(status, payload)
	}

	var o order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", docEntry, err)
	}
	return fromWire(o), nil
}

func (s *session) UpdateOrder(ctx context.Context, doc *erp.Document) error {
	headers := map[string]string{replaceCollections: "true"}
	status, payload, err := s.do(ctx, http.MethodPatch, orderPath(doc.DocEntry), toWire(doc), headers)
	if err != nil {
		return fmt.Errorf("update order %d: %w", doc.DocEntry, err)
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("order %d: %w", doc.DocEntry, erp.ErrDocumentNotFound)
	default:
		return responseError(status, payload)
	}
}

func (s *session) FindSalesperson(ctx context.Context, filter string) (int, bool, error) {
	query := "/SalesPersons?$filter=" + odataEscape(filter) + "&$select=SalesEmployeeCode&$top=1"
	status, payload, err := s.do(ctx, http.MethodGet, query, nil, nil)
	if err != nil {
		return 0, false, fmt.Errorf("query salespersons: %w", err)
	}
	if status != http.StatusOK {
		return 0, false, responseError(status, payload)
	}

	var page salesPersonPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return 0, false, fmt.Errorf("decode salespersons: %w", err)
	}
	if len(page.Value) == 0 {
		return 0, false, nil
	}
	return page.Value[0].SalesEmployeeCode, true, nil
}

// Close выполняет Logout один раз; повторные вызовы возвращают тот же результат.
func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		status, payload, err := s.do(ctx, http.MethodPost, "/Logout", nil, nil)
		switch {
		case err != nil:
			s.closeErr = fmt.Errorf("logout: %w", err)
		case status != http.StatusNoContent && status != http.StatusOK:
			s.closeErr = fmt.Errorf("logout: %w", responseError(status, payload))
		default:
			s.logger.Debug("service layer session closed")
		}
	})
	return s.closeErr
}

func (s *session) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	if err := s.connector.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.connector.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"method":   method,
		"path":     strings.SplitN(path, "?", 2)[0],
		"status":   resp.StatusCode,
		"duration": time.Since(started),
	}).Debug("service layer request")

	return resp.StatusCode, payload, nil
}

// responseError превращает ответ с ошибкой в *erp.RejectedError, если тело содержит
// ошибку Service Layer, иначе в обычную ошибку со статусом.
func responseError(status int, payload []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err == nil {
		if msg := env.message(); msg != "" {
			if status >= http.StatusInternalServerError {
				return fmt.Errorf("service layer HTTP %d: %s", status, msg)
			}
			return &erp.RejectedError{Code: env.code(), Message: msg}
		}
	}
	snippet := strings.TrimSpace(string(payload))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Errorf("service layer HTTP %d: %s", status, snippet)
}

func orderPath(docEntry int) string {
	return "/Orders(" + strconv.Itoa(docEntry) + ")"
}

func odataEscape(filter string) string {
	return strings.ReplaceAll(url.QueryEscape(filter), "+", "%20")
}

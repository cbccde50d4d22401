// Package health отдаёт состояние сервиса синхронизации для probe-эндпоинтов.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status — состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler агрегирует проверки.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewHandler создаёт handler для версии сборки version.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// RegisterChecker регистрирует проверку под именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate выполняет все проверки и возвращает сводный статус.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	overall := StatusHealthy
	checks := make(map[string]Check, len(names))
	for _, name := range names {
		check := checkers[name].Check(ctx)
		checks[name] = check
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отвечает 503, если хотя бы одна проверка unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// PingChecker вызывает функцию проверки доступности (например, Store.Ping).
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker создаёт проверку на основе ping.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.ping(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

// CycleChecker хранит итог последнего цикла синхронизации.
//
// До первого цикла и при ошибках уровня тенанта статус degraded; если ни цикл,
// ни пропуск из-за чужой блокировки не случались дольше staleAfter, статус unhealthy.
// Реплика в режиме ожидания (блокировку держит другая) считается здоровой.
type CycleChecker struct {
	mu         sync.RWMutex
	staleAfter time.Duration
	now        func() time.Time

	observed   bool
	standby    bool
	finishedAt time.Time
	lastSeen   time.Time
	failed     bool
	message    string
	listeners  []func(healthy bool)
}

// NewCycleChecker создаёт проверку; staleAfter<=0 отключает контроль давности.
func NewCycleChecker(staleAfter time.Duration) *CycleChecker {
	return &CycleChecker{staleAfter: staleAfter, now: time.Now}
}

// OnChange регистрирует обработчик, вызываемый после каждого Observe и ObserveStandby
// (используется для gRPC health status).
func (c *CycleChecker) OnChange(fn func(healthy bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Observe запоминает результат цикла; сигнатура совпадает с scheduler.CycleHook.
func (c *CycleChecker) Observe(report ordersync.CycleReport, err error) {
	created, updated, failed := report.Totals()

	c.mu.Lock()
	c.observed = true
	c.finishedAt = report.FinishedAt
	if c.finishedAt.IsZero() {
		c.finishedAt = c.now()
	}
	c.lastSeen = c.finishedAt
	c.standby = false
	c.failed = err != nil
	if err != nil {
		c.message = err.Error()
	} else {
		c.message = fmt.Sprintf("created=%d updated=%d failed=%d", created, updated, failed)
	}
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	c.notify(listeners, err == nil)
}

// ObserveStandby отмечает, что цикл пропущен, потому что его выполняет другая
// реплика; сигнатура совпадает с scheduler.StandbyHook.
func (c *CycleChecker) ObserveStandby() {
	c.mu.Lock()
	c.standby = true
	c.lastSeen = c.now()
	c.failed = false
	c.message = "standby, cycle lock is held by another replica"
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	c.notify(listeners, true)
}

func (c *CycleChecker) notify(listeners []func(bool), healthy bool) {
	for _, fn := range listeners {
		fn(healthy)
	}
}

func (c *CycleChecker) Check(context.Context) Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	check := Check{Name: "sync_cycle", Status: StatusHealthy, Message: c.message}
	switch {
	case !c.observed && !c.standby:
		check.Status = StatusDegraded
		check.Message = "no sync cycle finished yet"
	case c.staleAfter > 0 && c.now().Sub(c.lastSeen) > c.staleAfter:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("no sync activity since %s", c.lastSeen.UTC().Format(time.RFC3339))
	case c.standby:
	case c.failed:
		check.Status = StatusDegraded
	}
	return check
}

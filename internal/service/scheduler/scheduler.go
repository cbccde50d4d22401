// Package scheduler запускает циклы синхронизации по расписанию и по ручному
// запросу, не допуская наложения циклов.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

const defaultInterval = 5 * time.Minute

// Причины пропуска запуска для метрики ordersync_cycles_dropped_total.
const (
	DropInProgress     = "in_progress"
	DropLockNotHeld    = "lock_not_obtained"
	DropLockError      = "lock_error"
	DropSchedulerState = "stopped"
)

// CycleRunner выполняет один цикл синхронизации.
type CycleRunner interface {
	RunCycle(ctx context.Context) (ordersync.CycleReport, error)
}

// CycleHook получает результат каждого завершённого цикла.
type CycleHook func(report ordersync.CycleReport, err error)

// StandbyHook вызывается, когда цикл пропущен, потому что блокировку держит другая реплика.
type StandbyHook func()

// Options задаёт параметры планировщика.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.SyncMetrics
	Interval time.Duration
	Guard     Guard
	OnCycle   CycleHook
	OnStandby StandbyHook
}

// Option изменяет Options.
type Option func(*Options)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithInterval задаёт период между запусками.
func WithInterval(d time.Duration) Option {
	return func(o *Options) { o.Interval = d }
}

// WithGuard добавляет распределённую блокировку поверх локального флага.
func WithGuard(g Guard) Option {
	return func(o *Options) { o.Guard = g }
}

// WithCycleHook регистрирует обработчик результатов цикла.
func WithCycleHook(hook CycleHook) Option {
	return func(o *Options) { o.OnCycle = hook }
}

// WithStandbyHook регистрирует обработчик пропуска цикла из-за чужой блокировки.
func WithStandbyHook(hook StandbyHook) Option {
	return func(o *Options) { o.OnStandby = hook }
}

// Scheduler — хост цикла синхронизации.
type Scheduler struct {
	runner   CycleRunner
	logger   *log.Entry
	metrics  *metrics.SyncMetrics
	interval time.Duration
	guard     Guard
	onCycle   CycleHook
	onStandby StandbyHook

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool
}

// New создаёт планировщик.
func New(runner CycleRunner, options ...Option) *Scheduler {
	opts := Options{Interval: defaultInterval}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "sync-scheduler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}

	return &Scheduler{
		runner:    runner,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		guard:     opts.Guard,
		onCycle:   opts.OnCycle,
		onStandby: opts.OnStandby,
		baseCtx:   context.Background(),
	}
}

// Run запускает цикл сразу, затем каждые interval до отмены ctx.
// После отмены дожидается завершения текущего цикла.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.stopped = false
	s.mu.Unlock()

	s.logger.WithField("interval", s.interval).Info("sync scheduler started")
	s.Trigger()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()

			s.wg.Wait()
			s.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
			s.Trigger()
		}
	}
}

// Trigger запускает цикл в фоне. Возвращает false, если запуск пропущен,
// потому что цикл уже выполняется или планировщик остановлен.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	ctx, stopped := s.baseCtx, s.stopped
	if !stopped {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if stopped {
		s.drop(DropSchedulerState)
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.wg.Done()
		s.drop(DropInProgress)
		return false
	}

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runGuarded(ctx)
	}()
	return true
}

// RunOnce выполняет цикл синхронно в текущей горутине (режим run-once).
// Если задан guard, цикл выполняется только под блокировкой.
func (s *Scheduler) RunOnce(ctx context.Context) (ordersync.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.drop(DropInProgress)
		return ordersync.CycleReport{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	release, err := s.acquire(ctx)
	if err != nil {
		return ordersync.CycleReport{}, err
	}
	defer release()
	return s.runCycle(ctx)
}

// Running сообщает, выполняется ли сейчас цикл.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// ErrCycleInProgress возвращается RunOnce, если цикл уже идёт.
var ErrCycleInProgress = errors.New("sync cycle already in progress")

func (s *Scheduler) runGuarded(ctx context.Context) {
	release, err := s.acquire(ctx)
	if err != nil {
		return
	}
	defer release()

	_, _ = s.runCycle(ctx)
}

// acquire берёт блокировку guard, если он задан. Неудача учитывается как
// пропущенный запуск.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}

	release, err := s.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			s.drop(DropLockNotHeld)
			if s.onStandby != nil {
				s.onStandby()
			}
		} else {
			s.logger.WithError(err).Warn("cycle lock acquisition failed")
			s.drop(DropLockError)
		}
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).Warn("cycle lock release failed")
		}
	}, nil
}

func (s *Scheduler) runCycle(ctx context.Context) (ordersync.CycleReport, error) {
	report, err := s.runner.RunCycle(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("sync cycle finished with tenant errors")
	}
	if s.onCycle != nil {
		s.onCycle(report, err)
	}
	return report, err
}

func (s *Scheduler) drop(reason string) {
	s.metrics.CycleDropped(reason)
	s.logger.WithField("reason", reason).Info("sync trigger dropped")
}

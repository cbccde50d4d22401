// Package intake принимает заказы из внешней системы в staging и позволяет
// вручную запустить цикл синхронизации.
package intake

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// DefaultExternalIDPrefix — префикс идентификаторов заказов внешней системы.
const DefaultExternalIDPrefix = "ZOHO-"

// TenantLookup находит тенанта по коду предприятия.
type TenantLookup interface {
	Lookup(enterprise string) (domain.TenantTarget, bool)
}

// CycleTrigger запускает цикл синхронизации вне расписания.
type CycleTrigger interface {
	Trigger() bool
}

// Options задают необязательные параметры Handler.
type Options struct {
	Logger           *log.Entry
	Trigger          CycleTrigger
	ExternalIDPrefix string
}

// Option изменяет Options.
type Option func(*Options)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithTrigger подключает ручной запуск цикла.
func WithTrigger(trigger CycleTrigger) Option {
	return func(o *Options) { o.Trigger = trigger }
}

// WithExternalIDPrefix задаёт обязательный префикс external_id.
func WithExternalIDPrefix(prefix string) Option {
	return func(o *Options) { o.ExternalIDPrefix = prefix }
}

// Handler обслуживает intake API.
type Handler struct {
	repo     domain.IntakeRepository
	tenants  TenantLookup
	trigger  CycleTrigger
	prefix   string
	validate *validator.Validate
	logger   *log.Entry
}

// NewHandler создаёт обработчик intake API.
func NewHandler(repo domain.IntakeRepository, tenants TenantLookup, options ...Option) *Handler {
	opts := Options{ExternalIDPrefix: DefaultExternalIDPrefix}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "intake")
	}

	return &Handler{
		repo:     repo,
		tenants:  tenants,
		trigger:  opts.Trigger,
		prefix:   opts.ExternalIDPrefix,
		validate: newValidator(),
		logger:   opts.Logger,
	}
}

// NewRouter собирает gin.Engine с маршрутами intake API.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	h.Register(router)
	return router
}

// Register регистрирует маршруты на router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/", h.root)
	router.POST("/orders", h.upsertOrder)
	router.GET("/orders/:id", h.getOrder)
	router.GET("/orders/external/:external_id", h.getOrderByExternalID)
	router.POST("/sync/trigger", h.triggerSync)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) upsertOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": fieldErrors(err)})
		return
	}

	enterprise := strings.ToUpper(strings.TrimSpace(req.Enterprise))
	var problems []FieldError
	if !strings.HasPrefix(strings.TrimSpace(req.ExternalID), h.prefix) {
		problems = append(problems, FieldError{Field: "external_id", Message: "must start with " + h.prefix})
	}
	tenant, ok := h.tenants.Lookup(enterprise)
	if !ok {
		problems = append(problems, FieldError{Field: "enterprise", Message: "unknown enterprise " + enterprise})
	}
	if len(problems) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": problems})
		return
	}

	sub, err := req.toSubmission(tenant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": []FieldError{{Field: "order_date", Message: err.Error()}}})
		return
	}
	if sub.WarehouseID != tenant.WarehouseID {
		h.logger.WithFields(log.Fields{
			"external_id":      sub.ExternalID,
			"enterprise":       sub.Enterprise,
			"warehouse_id":     sub.WarehouseID,
			"tenant_warehouse": tenant.WarehouseID,
		}).Warn("staged order warehouse differs from tenant warehouse, it will not be synced")
	}

	rec, created, err := h.repo.UpsertByExternalID(c.Request.Context(), sub)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateExternalID) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("external_id", sub.ExternalID).Error("upsert staged order failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	logger := h.logger.WithFields(log.Fields{
		"order_id":    rec.Order.ID,
		"external_id": rec.Order.ExternalID,
		"enterprise":  rec.Order.Enterprise,
	})
	if created {
		logger.Info("staged order created")
		c.JSON(http.StatusCreated, newOrderResponse(rec))
		return
	}
	logger.Info("staged order replaced, marked for update")
	c.JSON(http.StatusOK, newOrderResponse(rec))
}

func (h *Handler) getOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	h.respondRecord(c, rec, err)
}

func (h *Handler) getOrderByExternalID(c *gin.Context) {
	rec, err := h.repo.GetByExternalID(c.Request.Context(), c.Param("external_id"))
	h.respondRecord(c, rec, err)
}

func (h *Handler) respondRecord(c *gin.Context, rec domain.StagingRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case err != nil:
		h.logger.WithError(err).Error("load staged order failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, newOrderResponse(rec))
	}
}

func (h *Handler) triggerSync(c *gin.Context) {
	if h.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync trigger is not available"})
		return
	}
	if !h.trigger.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
		return
	}
	h.logger.Info("sync cycle triggered manually")
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("intake request")
	}
}

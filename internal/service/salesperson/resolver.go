// Package salesperson переводит введённый человеком идентификатор продавца в код ERP.
package salesperson

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Directory выполняет запрос к справочнику продавцов ERP.
type Directory interface {
	FindSalesperson(ctx context.Context, filter string) (code int, found bool, err error)
}

// Resolver ищет код продавца: сначала как числовой код, затем по точному имени.
// Кэша нет: каждый вызов делает свежие запросы.
type Resolver struct {
	dir    Directory
	logger *log.Entry
}

// NewResolver создаёт резолвер поверх справочника.
func NewResolver(dir Directory, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.WithField("component", "salesperson-resolver")
	}
	return &Resolver{dir: dir, logger: logger}
}

// Resolve возвращает код продавца. found=false — продавец не найден, это не ошибка.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (int, bool, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return 0, false, nil
	}

	if n, err := strconv.Atoi(id); err == nil {
		code, found, err := r.dir.FindSalesperson(ctx, CodeFilter(n))
		if err != nil {
			return 0, false, fmt.Errorf("lookup salesperson by code %d: %w", n, err)
		}
		if found {
			return code, true, nil
		}
		r.logger.WithField("salesperson", id).Debug("numeric salesperson code not found, trying name")
	}

	code, found, err := r.dir.FindSalesperson(ctx, NameFilter(id))
	if err != nil {
		return 0, false, fmt.Errorf("lookup salesperson by name %q: %w", id, err)
	}
	return code, found, nil
}

// CodeFilter строит фильтр по коду продавца.
func CodeFilter(code int) string {
	return "SalesEmployeeCode eq " + strconv.Itoa(code)
}

// NameFilter строит фильтр по точному имени; одинарные кавычки удваиваются.
func NameFilter(name string) string {
	return "SalesEmployeeName eq '" + strings.ReplaceAll(name, "'", "''") + "'"
}

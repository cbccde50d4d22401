// Package tenant загружает список предприятий, которые обслуживает синхронизация.
package tenant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	entrySeparator = ";"
	fieldSeparator = "|"
	fieldsPerEntry = 3
)

// Registry — упорядоченный список тенантов. После создания не меняется.
type Registry struct {
	targets []domain.TenantTarget
	index   map[string]int
}

// NewRegistry проверяет цели и строит реестр.
func NewRegistry(targets []domain.TenantTarget) (*Registry, error) {
	if len(targets) == 0 {
		return nil, configError("no enterprise mappings configured")
	}

	r := &Registry{
		targets: make([]domain.TenantTarget, 0, len(targets)),
		index:   make(map[string]int, len(targets)),
	}
	for i, t := range targets {
		t.EnterpriseCode = strings.ToUpper(strings.TrimSpace(t.EnterpriseCode))
		t.Database = strings.TrimSpace(t.Database)
		switch {
		case t.EnterpriseCode == "":
			return nil, configError("mapping #%d: enterprise code is empty", i+1)
		case t.Database == "":
			return nil, configError("mapping #%d (%s): database is empty", i+1, t.EnterpriseCode)
		case t.WarehouseID <= 0:
			return nil, configError("mapping #%d (%s): warehouse id must be positive, got %d", i+1, t.EnterpriseCode, t.WarehouseID)
		}
		if _, dup := r.index[t.EnterpriseCode]; dup {
			return nil, configError("mapping #%d: enterprise %s is configured twice", i+1, t.EnterpriseCode)
		}
		r.index[t.EnterpriseCode] = len(r.targets)
		r.targets = append(r.targets, t)
	}
	return r, nil
}

// ParseMappings разбирает строку вида "ENTERPRISE|DATABASE|WAREHOUSE_ID;...".
// Любая некорректная запись отклоняет всю конфигурацию.
func ParseMappings(raw string) (*Registry, error) {
	var targets []domain.TenantTarget
	for i, entry := range strings.Split(raw, entrySeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, fieldSeparator)
		if len(parts) != fieldsPerEntry {
			return nil, configError("mapping #%d %q: expected ENTERPRISE|DATABASE|WAREHOUSE_ID", i+1, entry)
		}
		warehouse, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, configError("mapping #%d %q: warehouse id is not a number", i+1, entry)
		}
		targets = append(targets, domain.TenantTarget{
			EnterpriseCode: parts[0],
			Database:       parts[1],
			WarehouseID:    warehouse,
		})
	}
	return NewRegistry(targets)
}

// Targets возвращает копию списка в порядке конфигурации.
func (r *Registry) Targets() []domain.TenantTarget {
	out := make([]domain.TenantTarget, len(r.targets))
	copy(out, r.targets)
	return out
}

// Lookup ищет тенанта по коду предприятия без учёта регистра.
func (r *Registry) Lookup(enterprise string) (domain.TenantTarget, bool) {
	i, ok := r.index[strings.ToUpper(strings.TrimSpace(enterprise))]
	if !ok {
		return domain.TenantTarget{}, false
	}
	return r.targets[i], true
}

// Enterprises возвращает коды предприятий в порядке конфигурации.
func (r *Registry) Enterprises() []string {
	out := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t.EnterpriseCode)
	}
	return out
}

func configError(format string, args ...any) error {
	return fmt.Errorf("parse enterprise mappings: %w", domain.NewSyncError(domain.KindConfiguration, format, args...))
}

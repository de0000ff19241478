package template

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Интерфейс определяет контракт для работы с хранилищем шаблонов.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища для версий шаблонов.
//
// Версии шаблонов неизменяемы после создания: единственное изменяемое
// поле - флаг IsActive (архивация). Редактирование всегда создаёт
// новую версию через Create.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Write Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Create сохраняет новую версию шаблона вместе с её активностями.
	// Возвращает shared.ErrAlreadyExists при конфликте (lineage, version).
	Create(ctx context.Context, tpl *Template) error

	// SetArchived устанавливает флаг архивации.
	// Возвращает shared.ErrNotFound, если версия не найдена.
	SetArchived(ctx context.Context, id string, archived bool) error

	// ─────────────────────────────────────────────────────────────────────────
	// Read Operations
	// ─────────────────────────────────────────────────────────────────────────

	// GetByID возвращает версию шаблона по ID вместе с активностями.
	// Любая историческая версия остаётся доступной (audit immutability).
	// Возвращает shared.ErrNotFound, если версия не найдена.
	GetByID(ctx context.Context, id string) (*Template, error)

	// GetLatestVersion возвращает последнюю версию линии.
	GetLatestVersion(ctx context.Context, lineageID string) (*Template, error)

	// ListByOwner возвращает последние версии шаблонов владельца.
	ListByOwner(ctx context.Context, ownerID string, opts ListOptions) ([]*Template, error)

	// ListLineage возвращает все версии линии по возрастанию версии.
	ListLineage(ctx context.Context, lineageID string) ([]*Template, error)

	// Exists проверяет существование версии шаблона.
	Exists(ctx context.Context, id string) (bool, error)

	// Count возвращает количество шаблонов владельца (последних версий).
	Count(ctx context.Context, ownerID string) (int, error)
}

// ListOptions содержит параметры пагинации и фильтрации списков шаблонов.
type ListOptions struct {
	// Offset - смещение (для пагинации).
	Offset int

	// Limit - максимальное количество записей.
	Limit int

	// IncludeArchived - включать ли архивированные шаблоны.
	IncludeArchived bool

	// Category - фильтр по категории (пустая строка = все).
	Category Category
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Offset:          0,
		Limit:           50,
		IncludeArchived: false,
	}
}

// WithOffset устанавливает смещение.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit устанавливает лимит.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}

// WithArchived включает архивированные шаблоны.
func (o ListOptions) WithArchived() ListOptions {
	o.IncludeArchived = true
	return o
}

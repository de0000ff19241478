package progress

import (
	"context"

	"github.com/planloop/schedule-hub/internal/domain/instance"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища для строк прогресса.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Write Operations
	// ─────────────────────────────────────────────────────────────────────────

	// BulkCreate создаёт строки прогресса одной недели пакетной записью.
	// Конфликт по (instanceId, weekNumber, activityId) - ошибка
	// shared.ErrAlreadyExists: неделя с существующими строками
	// никогда не перегенерируется.
	BulkCreate(ctx context.Context, rows []*Progress) error

	// Update сохраняет изменённую строку с проверкой Revision и
	// предусловием по исходному статусу. Ноль затронутых строк -
	// shared.ErrOptimisticLock.
	Update(ctx context.Context, p *Progress, expectedStatus Status) error

	// ─────────────────────────────────────────────────────────────────────────
	// Read Operations
	// ─────────────────────────────────────────────────────────────────────────

	// GetByID возвращает строку прогресса по ID.
	// Возвращает shared.ErrNotFound, если строка не найдена.
	GetByID(ctx context.Context, id string) (*Progress, error)

	// ListByInstanceWeek возвращает все строки недели инстанса.
	ListByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) ([]*Progress, error)

	// CountByInstanceWeek возвращает счётчики строк недели по статусам.
	CountByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) (WeekCounts, error)

	// ExistsForWeek проверяет, есть ли у недели хотя бы одна строка.
	ExistsForWeek(ctx context.Context, instanceID string, weekNumber int) (bool, error)
}

// WeekCounts - счётчики строк одной недели по статусам.
type WeekCounts struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Skipped    int
}

// CompletionRate возвращает долю завершённых строк (0-100).
func (c WeekCounts) CompletionRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total) * 100
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION STORE
// Завершение активности - составная запись: охраняемый переход статуса,
// пересчёт кеша инстанса и начисление баллов студенту выполняются
// в одной транзакции хранилища.
// ══════════════════════════════════════════════════════════════════════════════

// CompletionStore выполняет атомарное завершение активности.
type CompletionStore interface {
	// Complete записывает переход in_progress → completed с предусловием
	// по статусу и ревизии, обновляет кеш инстанса и добавляет баллы
	// студенту в одной транзакции. Сработавшее предусловие -
	// shared.ErrStateConflict: баллы никогда не начисляются дважды.
	Complete(ctx context.Context, p *Progress, inst *instance.Instance, points int) error
}

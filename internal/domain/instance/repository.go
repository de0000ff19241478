package instance

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища для инстансов расписаний.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Write Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Create сохраняет новый инстанс.
	// Возвращает shared.ErrAlreadyExists, если у студента уже есть
	// открытый инстанс этой линии шаблона.
	Create(ctx context.Context, inst *Instance) error

	// Update сохраняет изменённый инстанс с проверкой Revision.
	// Возвращает shared.ErrOptimisticLock, если запись была изменена
	// конкурентно; успешная запись инкрементирует Revision.
	Update(ctx context.Context, inst *Instance) error

	// ─────────────────────────────────────────────────────────────────────────
	// Read Operations
	// ─────────────────────────────────────────────────────────────────────────

	// GetByID возвращает инстанс по ID.
	// Возвращает shared.ErrNotFound, если инстанс не найден.
	GetByID(ctx context.Context, id string) (*Instance, error)

	// FindOpenByStudentAndLineage возвращает открытый ({active,paused})
	// инстанс студента для линии шаблона, либо shared.ErrNotFound.
	FindOpenByStudentAndLineage(ctx context.Context, studentID, lineageID string) (*Instance, error)

	// ListByStudent возвращает инстансы студента.
	ListByStudent(ctx context.Context, studentID string, opts ListOptions) ([]*Instance, error)

	// ListDue возвращает открытые инстансы с закончившейся неделей
	// (currentWeekEnd < before), порциями для батч-обработки.
	ListDue(ctx context.Context, before time.Time, limit, offset int) ([]*Instance, error)

	// CountDue возвращает количество инстансов, подлежащих переходу.
	CountDue(ctx context.Context, before time.Time) (int, error)
}

// ListOptions содержит параметры пагинации и фильтрации списков инстансов.
type ListOptions struct {
	// Offset - смещение (для пагинации).
	Offset int

	// Limit - максимальное количество записей.
	Limit int

	// Status - фильтр по статусу (пустая строка = все).
	Status Status
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{Offset: 0, Limit: 50}
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR INTERFACES
// Контракты внешних коллабораторов, необходимые сервису назначения.
// ══════════════════════════════════════════════════════════════════════════════

// RosterRepository определяет доступ к спискам студентов специалистов.
// Специалист может управлять расписаниями только студентов своего списка.
type RosterRepository interface {
	// IsOnRoster проверяет, закреплён ли студент за специалистом.
	IsOnRoster(ctx context.Context, professionalID, studentID string) (bool, error)

	// ListStudents возвращает ID студентов специалиста.
	ListStudents(ctx context.Context, professionalID string) ([]string, error)

	// Add закрепляет студента за специалистом.
	Add(ctx context.Context, professionalID, studentID string) error

	// Remove снимает закрепление.
	Remove(ctx context.Context, professionalID, studentID string) error
}

// StudentDirectory определяет минимальный контракт справочника студентов.
type StudentDirectory interface {
	// Exists проверяет существование студента.
	Exists(ctx context.Context, studentID string) (bool, error)
}

// PointsRepository определяет хранилище накопленных баллов студентов.
type PointsRepository interface {
	// AddPoints атомарно добавляет баллы к сумме студента.
	AddPoints(ctx context.Context, studentID string, delta int) error

	// GetTotal возвращает сумму баллов студента.
	GetTotal(ctx context.Context, studentID string) (int, error)
}

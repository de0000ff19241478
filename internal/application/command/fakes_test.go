package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// In-memory fakes backing the command handler tests. They implement the
// same conflict and optimistic-lock semantics the postgres repositories
// promise, so handler behavior can be exercised without a database.

// ─────────────────────────────────────────────────────────────────────────────
// template.Repository
// ─────────────────────────────────────────────────────────────────────────────

type fakeTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]*template.Template
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{templates: make(map[string]*template.Template)}
}

func (r *fakeTemplateRepo) Create(_ context.Context, tpl *template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.templates {
		if existing.LineageID == tpl.LineageID && existing.Version == tpl.Version {
			return shared.ErrAlreadyExists
		}
	}
	r.templates[tpl.ID] = tpl.Clone()
	return nil
}

func (r *fakeTemplateRepo) SetArchived(_ context.Context, id string, archived bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return shared.ErrNotFound
	}
	tpl.IsActive = !archived
	return nil
}

func (r *fakeTemplateRepo) GetByID(_ context.Context, id string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return tpl.Clone(), nil
}

func (r *fakeTemplateRepo) GetLatestVersion(_ context.Context, lineageID string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *template.Template
	for _, tpl := range r.templates {
		if tpl.LineageID != lineageID {
			continue
		}
		if latest == nil || tpl.Version > latest.Version {
			latest = tpl
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	return latest.Clone(), nil
}

func (r *fakeTemplateRepo) ListByOwner(_ context.Context, ownerID string, opts template.ListOptions) ([]*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*template.Template, 0)
	for _, tpl := range r.templates {
		if tpl.OwnerID != ownerID {
			continue
		}
		if !opts.IncludeArchived && !tpl.IsActive {
			continue
		}
		out = append(out, tpl.Clone())
	}
	return out, nil
}

func (r *fakeTemplateRepo) ListLineage(_ context.Context, lineageID string) ([]*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*template.Template, 0)
	for _, tpl := range r.templates {
		if tpl.LineageID == lineageID {
			out = append(out, tpl.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *fakeTemplateRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.templates[id]
	return ok, nil
}

func (r *fakeTemplateRepo) Count(_ context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, tpl := range r.templates {
		if tpl.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// instance.Repository
// ─────────────────────────────────────────────────────────────────────────────

type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{instances: make(map[string]*instance.Instance)}
}

func (r *fakeInstanceRepo) Create(_ context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.instances {
		if existing.StudentID == inst.StudentID &&
			existing.LineageID == inst.LineageID &&
			existing.Status.IsOpen() {
			return shared.ErrAlreadyExists
		}
	}
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *fakeInstanceRepo) Update(_ context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.instances[inst.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Revision != inst.Revision {
		return shared.ErrOptimisticLock
	}
	clone := inst.Clone()
	clone.Revision++
	r.instances[inst.ID] = clone
	inst.Revision = clone.Revision
	return nil
}

func (r *fakeInstanceRepo) GetByID(_ context.Context, id string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return inst.Clone(), nil
}

func (r *fakeInstanceRepo) FindOpenByStudentAndLineage(_ context.Context, studentID, lineageID string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.StudentID == studentID && inst.LineageID == lineageID && inst.Status.IsOpen() {
			return inst.Clone(), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeInstanceRepo) ListByStudent(_ context.Context, studentID string, _ instance.ListOptions) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*instance.Instance, 0)
	for _, inst := range r.instances {
		if inst.StudentID == studentID {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListDue(_ context.Context, before time.Time, limit, offset int) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := make([]*instance.Instance, 0)
	for _, inst := range r.instances {
		if inst.IsDue(before) {
			due = append(due, inst.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if offset >= len(due) {
		return nil, nil
	}
	due = due[offset:]
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeInstanceRepo) CountDue(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, inst := range r.instances {
		if inst.IsDue(before) {
			count++
		}
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.Repository + progress.CompletionStore
// ─────────────────────────────────────────────────────────────────────────────

type fakeProgressRepo struct {
	mu   sync.Mutex
	rows map[string]*progress.Progress
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{rows: make(map[string]*progress.Progress)}
}

func weekKey(instanceID string, week int, activityID string) string {
	return fmt.Sprintf("%s#%d#%s", instanceID, week, activityID)
}

func (r *fakeProgressRepo) BulkCreate(_ context.Context, rows []*progress.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, existing := range r.rows {
		seen[weekKey(existing.InstanceID, existing.WeekNumber, existing.ActivityID)] = true
	}
	for _, row := range rows {
		if seen[weekKey(row.InstanceID, row.WeekNumber, row.ActivityID)] {
			return shared.ErrAlreadyExists
		}
	}
	for _, row := range rows {
		r.rows[row.ID] = row.Clone()
	}
	return nil
}

func (r *fakeProgressRepo) Update(_ context.Context, p *progress.Progress, expectedStatus progress.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[p.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Status != expectedStatus || stored.Revision != p.Revision {
		return shared.ErrOptimisticLock
	}
	clone := p.Clone()
	clone.Revision++
	r.rows[p.ID] = clone
	p.Revision = clone.Revision
	return nil
}

func (r *fakeProgressRepo) GetByID(_ context.Context, id string) (*progress.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return row.Clone(), nil
}

func (r *fakeProgressRepo) ListByInstanceWeek(_ context.Context, instanceID string, weekNumber int) ([]*progress.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*progress.Progress, 0)
	for _, row := range r.rows {
		if row.InstanceID == instanceID && row.WeekNumber == weekNumber {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (r *fakeProgressRepo) CountByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) (progress.WeekCounts, error) {
	rows, _ := r.ListByInstanceWeek(ctx, instanceID, weekNumber)
	counts := progress.WeekCounts{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case progress.StatusPending:
			counts.Pending++
		case progress.StatusInProgress:
			counts.InProgress++
		case progress.StatusCompleted:
			counts.Completed++
		case progress.StatusSkipped:
			counts.Skipped++
		}
	}
	return counts, nil
}

func (r *fakeProgressRepo) ExistsForWeek(ctx context.Context, instanceID string, weekNumber int) (bool, error) {
	rows, _ := r.ListByInstanceWeek(ctx, instanceID, weekNumber)
	return len(rows) > 0, nil
}

// fakeCompletionStore emulates the single-transaction completion write.
type fakeCompletionStore struct {
	progressRepo *fakeProgressRepo
	instanceRepo *fakeInstanceRepo
	points       map[string]int
	mu           sync.Mutex
}

func newFakeCompletionStore(pr *fakeProgressRepo, ir *fakeInstanceRepo) *fakeCompletionStore {
	return &fakeCompletionStore{
		progressRepo: pr,
		instanceRepo: ir,
		points:       make(map[string]int),
	}
}

func (s *fakeCompletionStore) Complete(ctx context.Context, p *progress.Progress, inst *instance.Instance, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.progressRepo.Update(ctx, p, progress.StatusInProgress); err != nil {
		if shared.IsNotFound(err) {
			return err
		}
		return shared.ErrStateConflict
	}
	if err := s.instanceRepo.Update(ctx, inst); err != nil {
		return err
	}
	s.points[p.StudentID] += points
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// snapshot.Repository
// ─────────────────────────────────────────────────────────────────────────────

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[string]*snapshot.Snapshot // key: instanceID#week
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snapshots: make(map[string]*snapshot.Snapshot)}
}

func snapKey(instanceID string, week int) string {
	return fmt.Sprintf("%s#%d", instanceID, week)
}

func (r *fakeSnapshotRepo) CreateIfAbsent(_ context.Context, s *snapshot.Snapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := snapKey(s.InstanceID, s.WeekNumber)
	if _, ok := r.snapshots[key]; ok {
		return false, nil
	}
	clone := *s
	r.snapshots[key] = &clone
	return true, nil
}

func (r *fakeSnapshotRepo) GetByInstanceWeek(_ context.Context, instanceID string, weekNumber int) (*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[snapKey(instanceID, weekNumber)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *fakeSnapshotRepo) GetLatest(_ context.Context, instanceID string) (*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *snapshot.Snapshot
	for _, s := range r.snapshots {
		if s.InstanceID != instanceID {
			continue
		}
		if latest == nil || s.WeekNumber > latest.WeekNumber {
			latest = s
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeSnapshotRepo) ExistsForWeek(_ context.Context, instanceID string, weekNumber int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.snapshots[snapKey(instanceID, weekNumber)]
	return ok, nil
}

func (r *fakeSnapshotRepo) ListByInstance(_ context.Context, instanceID string) ([]*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*snapshot.Snapshot, 0)
	for _, s := range r.snapshots {
		if s.InstanceID == instanceID {
			clone := *s
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekNumber < out[j].WeekNumber })
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Roster, student directory, event bus
// ─────────────────────────────────────────────────────────────────────────────

type fakeRoster struct {
	mu      sync.Mutex
	entries map[string]map[string]bool // professionalID -> studentID
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{entries: make(map[string]map[string]bool)}
}

func (r *fakeRoster) IsOnRoster(_ context.Context, professionalID, studentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[professionalID][studentID], nil
}

func (r *fakeRoster) ListStudents(_ context.Context, professionalID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0)
	for id := range r.entries[professionalID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeRoster) Add(_ context.Context, professionalID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[professionalID] == nil {
		r.entries[professionalID] = make(map[string]bool)
	}
	r.entries[professionalID][studentID] = true
	return nil
}

func (r *fakeRoster) Remove(_ context.Context, professionalID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[professionalID], studentID)
	return nil
}

type fakeStudents struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newFakeStudents(ids ...string) *fakeStudents {
	s := &fakeStudents{ids: make(map[string]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *fakeStudents) Exists(_ context.Context, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[studentID], nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) byType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.Event, 0)
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

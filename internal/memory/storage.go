package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
)

// Storage keeps tasks and activity in process memory. It backs STORAGE_DRIVER=memory
// and the tests, and mirrors the constraints the postgres schema enforces.
type Storage struct {
	mu         sync.RWMutex
	tasks      map[int64]domain.Task
	seq        int64
	activities []domain.ActivityEntry
	now        func() time.Time
}

func NewStorage() *Storage {
	return &Storage{
		tasks: make(map[int64]domain.Task),
		now:   time.Now,
	}
}

// WithClock replaces the timestamp source.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func (s *Storage) Ping(ctx context.Context) (err error) {
	return ctx.Err()
}

func (s *Storage) TaskExists(ctx context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tasks[id]
	return exists, nil
}

func (s *Storage) NextTaskID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *Storage) InsertTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if err := checkPlacement(task.Stage, task.Position); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return nil, errval.ErrDuplicateID
	}
	if task.PublicToken != "" && s.tokenTaken(task.PublicToken) {
		return nil, errval.ErrDuplicateID
	}

	stored := cloneTask(*task)
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.UptimeStatus == "" {
		stored.UptimeStatus = domain.UptimeUnknown
	}
	s.tasks[stored.ID] = stored

	return ptr(stored), nil
}

func (s *Storage) GetTask(ctx context.Context, id int64, owner string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok || task.Owner != owner {
		return nil, errval.ErrNotFound
	}
	return ptr(task), nil
}

func (s *Storage) ListTasksByOwner(ctx context.Context, owner string) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := []*domain.Task{}
	for _, task := range s.tasks {
		if task.Owner == owner {
			tasks = append(tasks, ptr(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

func (s *Storage) UpdateTaskPlacement(ctx context.Context, id int64, owner string, placement domain.Placement) (*domain.Task, error) {
	if err := checkPlacement(placement.Stage, placement.Position); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Owner != owner {
		return nil, errval.ErrNotFound
	}
	task.Stage = placement.Stage
	task.Position = placement.Position
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task

	return ptr(task), nil
}

func (s *Storage) UpdateTaskFields(ctx context.Context, id int64, owner string, fields domain.TaskFields, placement *domain.Placement) (*domain.Task, error) {
	if placement != nil {
		if err := checkPlacement(placement.Stage, placement.Position); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Owner != owner {
		return nil, errval.ErrNotFound
	}
	fields.Apply(&task)
	if placement != nil {
		task.Stage = placement.Stage
		task.Position = placement.Position
	}
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task

	return ptr(task), nil
}

func (s *Storage) DeleteTask(ctx context.Context, id int64, owner string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Owner != owner {
		return nil, errval.ErrNotFound
	}
	delete(s.tasks, id)

	// Mirrors ON DELETE SET NULL on activity_log.task_id
	for i := range s.activities {
		if taskID := s.activities[i].TaskID; taskID != nil && *taskID == id {
			s.activities[i].TaskID = nil
		}
	}

	return ptr(task), nil
}

// SetPublicToken assigns token unless the task already has one, and returns the task
// with whichever token is in effect.
func (s *Storage) SetPublicToken(ctx context.Context, id int64, owner string, token string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Owner != owner {
		return nil, errval.ErrNotFound
	}
	if task.PublicToken == "" {
		if s.tokenTaken(token) {
			return nil, errval.ErrDuplicateID
		}
		task.PublicToken = token
	}
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task

	return ptr(task), nil
}

func (s *Storage) GetTaskByPublicToken(ctx context.Context, token string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, task := range s.tasks {
		if token != "" && task.PublicToken == token {
			return ptr(task), nil
		}
	}
	return nil, errval.ErrNotFound
}

func (s *Storage) ListTasksWithDomain(ctx context.Context, limit int32) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := []*domain.Task{}
	for _, task := range s.tasks {
		if task.Domain != "" {
			tasks = append(tasks, ptr(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	if limit >= 0 && int(limit) < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *Storage) SetUptimeStatus(ctx context.Context, id int64, status domain.UptimeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return errval.ErrNotFound
	}
	task.UptimeStatus = status
	s.tasks[id] = task
	return nil
}

func (s *Storage) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.ID = int64(len(s.activities) + 1)
	if stored.TaskID != nil {
		if _, ok := s.tasks[*stored.TaskID]; !ok {
			stored.TaskID = nil
		}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.activities = append(s.activities, stored)
	return nil
}

// ListActivities returns the owner's entries newest first.
func (s *Storage) ListActivities(ctx context.Context, owner string, limit, offset int32) ([]*domain.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*domain.ActivityEntry{}
	skipped := int32(0)
	for i := len(s.activities) - 1; i >= 0 && int32(len(entries)) < limit; i-- {
		if s.activities[i].UserID != owner {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		entry := s.activities[i]
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *Storage) tokenTaken(token string) bool {
	for _, task := range s.tasks {
		if task.PublicToken == token {
			return true
		}
	}
	return false
}

func checkPlacement(stage domain.Stage, position int) error {
	if !stage.Valid() {
		return errval.NewValidationError("stage", "must be between 0 and 3")
	}
	if position < 0 {
		return errval.NewValidationError("position", "must not be negative")
	}
	return nil
}

func cloneTask(task domain.Task) domain.Task {
	if task.DeadlineTimestamp != nil {
		ts := *task.DeadlineTimestamp
		task.DeadlineTimestamp = &ts
	}
	return task
}

func ptr(task domain.Task) *domain.Task {
	cloned := cloneTask(task)
	return &cloned
}

package domain

import "context"

// TaskStore is the persistence surface of the ordering engine. Every owner-scoped
// method reports errval.ErrNotFound for rows that are absent or owned by someone else.
type TaskStore interface {
	TaskExists(ctx context.Context, id int64) (bool, error)
	NextTaskID(ctx context.Context) (int64, error)
	InsertTask(ctx context.Context, task *Task) (*Task, error)
	GetTask(ctx context.Context, id int64, owner string) (*Task, error)
	ListTasksByOwner(ctx context.Context, owner string) ([]*Task, error)
	UpdateTaskPlacement(ctx context.Context, id int64, owner string, placement Placement) (*Task, error)
	UpdateTaskFields(ctx context.Context, id int64, owner string, fields TaskFields, placement *Placement) (*Task, error)
	DeleteTask(ctx context.Context, id int64, owner string) (*Task, error)
	SetPublicToken(ctx context.Context, id int64, owner string, token string) (*Task, error)
	GetTaskByPublicToken(ctx context.Context, token string) (*Task, error)
}

// UptimeStore is the only writer of Task.UptimeStatus.
type UptimeStore interface {
	ListTasksWithDomain(ctx context.Context, limit int32) ([]*Task, error)
	SetUptimeStatus(ctx context.Context, id int64, status UptimeStatus) error
}

type ActivityStore interface {
	InsertActivity(ctx context.Context, entry *ActivityEntry) error
	ListActivities(ctx context.Context, owner string, limit, offset int32) ([]*ActivityEntry, error)
}

type Storage interface {
	Ping(ctx context.Context) (err error)
	TaskStore
	UptimeStore
	ActivityStore
}

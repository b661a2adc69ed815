package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
)

type storage struct {
	queries *Queries
	pool    *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			pool.Close()
			return err
		}

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))

	if err != nil {
		return nil, err
	}

	return &storage{
		queries: New(pool),
		pool:    pool,
	}, nil
}

func (s *storage) TaskExists(ctx context.Context, id int64) (bool, error) {
	return s.queries.TaskExists(ctx, id)
}

func (s *storage) NextTaskID(ctx context.Context) (int64, error) {
	return s.queries.NextTaskID(ctx)
}

func (s *storage) InsertTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	row, err := s.queries.InsertTask(ctx, InsertTaskParams{
		ID:                task.ID,
		UserID:            task.Owner,
		Client:            task.Client,
		Contact:           textOrNull(task.Contact),
		Type:              textOrNull(task.Type),
		Stack:             textOrNull(task.Stack),
		Domain:            textOrNull(task.Domain),
		Description:       textOrNull(task.Description),
		Price:             task.Price,
		PaymentStatus:     textOrNull(task.PaymentStatus),
		Deadline:          textOrNull(task.Deadline),
		DeadlineTimestamp: int8Param(task.DeadlineTimestamp),
		Hosting:           textOrNull(task.Hosting),
		ColID:             int16(task.Stage),
		OrderPosition:     int32(task.Position),
		IsRecurring:       task.IsRecurring,
		AssetsLink:        textOrNull(task.AssetsLink),
		PublicUuid:        textOrNull(task.PublicToken),
	})
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) GetTask(ctx context.Context, id int64, owner string) (*domain.Task, error) {
	row, err := s.queries.GetTaskByIDAndOwner(ctx, id, owner)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) ListTasksByOwner(ctx context.Context, owner string) ([]*domain.Task, error) {
	rows, err := s.queries.ListTasksByOwner(ctx, owner)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTasks(rows), nil
}

func (s *storage) UpdateTaskPlacement(ctx context.Context, id int64, owner string, placement domain.Placement) (*domain.Task, error) {
	row, err := s.queries.UpdateTaskPlacement(ctx, UpdateTaskPlacementParams{
		ID:            id,
		UserID:        owner,
		ColID:         int16(placement.Stage),
		OrderPosition: int32(placement.Position),
	})
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) UpdateTaskFields(ctx context.Context, id int64, owner string, fields domain.TaskFields, placement *domain.Placement) (*domain.Task, error) {
	params := UpdateTaskFieldsParams{
		ID:                id,
		UserID:            owner,
		Client:            textParam(fields.Client),
		Contact:           textParam(fields.Contact),
		Type:              textParam(fields.Type),
		Stack:             textParam(fields.Stack),
		Domain:            textParam(fields.Domain),
		Description:       textParam(fields.Description),
		Price:             float8Param(fields.Price),
		PaymentStatus:     textParam(fields.PaymentStatus),
		Deadline:          textParam(fields.Deadline),
		DeadlineTimestamp: int8Param(fields.DeadlineTimestamp),
		Hosting:           textParam(fields.Hosting),
		IsRecurring:       boolParam(fields.IsRecurring),
		AssetsLink:        textParam(fields.AssetsLink),
		ColID:             pgtype.Int2{Status: pgtype.Null},
		OrderPosition:     pgtype.Int4{Status: pgtype.Null},
	}
	if placement != nil {
		params.ColID = pgtype.Int2{Int: int16(placement.Stage), Status: pgtype.Present}
		params.OrderPosition = pgtype.Int4{Int: int32(placement.Position), Status: pgtype.Present}
	}

	row, err := s.queries.UpdateTaskFields(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) DeleteTask(ctx context.Context, id int64, owner string) (*domain.Task, error) {
	row, err := s.queries.DeleteTask(ctx, id, owner)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) SetPublicToken(ctx context.Context, id int64, owner string, token string) (*domain.Task, error) {
	row, err := s.queries.SetPublicUuid(ctx, id, owner, token)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) GetTaskByPublicToken(ctx context.Context, token string) (*domain.Task, error) {
	row, err := s.queries.GetTaskByPublicUuid(ctx, token)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTask(row), nil
}

func (s *storage) ListTasksWithDomain(ctx context.Context, limit int32) ([]*domain.Task, error) {
	rows, err := s.queries.ListTasksWithDomain(ctx, limit)
	if err != nil {
		return nil, translateError(err)
	}

	return convertTasks(rows), nil
}

func (s *storage) SetUptimeStatus(ctx context.Context, id int64, status domain.UptimeStatus) error {
	affected, err := s.queries.UpdateUptimeStatus(ctx, id, string(status))
	if err != nil {
		return translateError(err)
	}

	// The task was deleted while its domain was being probed
	if affected == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	taskID := pgtype.Int8{Status: pgtype.Null}
	if entry.TaskID != nil {
		taskID = pgtype.Int8{Int: *entry.TaskID, Status: pgtype.Present}
	}
	createdAt := pgtype.Timestamptz{Status: pgtype.Null}
	if !entry.CreatedAt.IsZero() {
		createdAt = pgtype.Timestamptz{Time: entry.CreatedAt, Status: pgtype.Present}
	}

	err := s.queries.InsertActivity(ctx, InsertActivityParams{
		UserID:            entry.UserID,
		TaskID:            taskID,
		ActionType:        string(entry.ActionType),
		ActionDescription: textOrNull(entry.ActionDescription),
		OldData:           jsonbOrNull(entry.OldData),
		NewData:           jsonbOrNull(entry.NewData),
		CreatedAt:         createdAt,
	})

	return translateError(err)
}

func (s *storage) ListActivities(ctx context.Context, owner string, limit, offset int32) ([]*domain.ActivityEntry, error) {
	rows, err := s.queries.ListActivityByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, translateError(err)
	}

	entries := make([]*domain.ActivityEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, convertActivity(row))
	}

	return entries, nil
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

// translateError maps driver errors onto errval sentinels. Unknown errors pass through
// so the caller can log them before answering with errval.ErrInternal.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errval.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return errval.ErrDuplicateID
	}

	return err
}

func convertTask(task Task) *domain.Task {
	castedItem := &domain.Task{
		ID:            task.ID,
		Owner:         task.UserID,
		Stage:         domain.Stage(task.ColID),
		Position:      int(task.OrderPosition),
		Client:        task.Client,
		Contact:       task.Contact.String,
		Type:          task.Type.String,
		Stack:         task.Stack.String,
		Domain:        task.Domain.String,
		Description:   task.Description.String,
		Price:         task.Price,
		PaymentStatus: task.PaymentStatus.String,
		Deadline:      task.Deadline.String,
		Hosting:       task.Hosting.String,
		IsRecurring:   task.IsRecurring,
		AssetsLink:    task.AssetsLink.String,
		UptimeStatus:  domain.UptimeStatus(task.UptimeStatus),
		PublicToken:   task.PublicUuid.String,
		CreatedAt:     task.CreatedAt.Time.UTC(),
		UpdatedAt:     task.UpdatedAt.Time.UTC(),
	}
	if task.DeadlineTimestamp.Status == pgtype.Present {
		ts := task.DeadlineTimestamp.Int
		castedItem.DeadlineTimestamp = &ts
	}

	return castedItem
}

func convertTasks(tasks []Task) []*domain.Task {
	castedTasks := []*domain.Task{}
	for _, item := range tasks {
		castedTask := convertTask(item)
		castedTasks = append(castedTasks, castedTask)
	}

	return castedTasks
}

func convertActivity(item ActivityLog) *domain.ActivityEntry {
	entry := &domain.ActivityEntry{
		ID:                item.ID,
		UserID:            item.UserID,
		ActionType:        domain.ActionType(item.ActionType),
		ActionDescription: item.ActionDescription.String,
		CreatedAt:         item.CreatedAt.Time.UTC(),
	}
	if item.TaskID.Status == pgtype.Present {
		taskID := item.TaskID.Int
		entry.TaskID = &taskID
	}
	if item.OldData.Status == pgtype.Present {
		entry.OldData = json.RawMessage(item.OldData.Bytes)
	}
	if item.NewData.Status == pgtype.Present {
		entry.NewData = json.RawMessage(item.NewData.Bytes)
	}

	return entry
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}

func textParam(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: *s, Status: pgtype.Present}
}

func float8Param(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{Status: pgtype.Null}
	}
	return pgtype.Float8{Float: *f, Status: pgtype.Present}
}

func int8Param(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{Status: pgtype.Null}
	}
	return pgtype.Int8{Int: *i, Status: pgtype.Present}
}

func boolParam(b *bool) pgtype.Bool {
	if b == nil {
		return pgtype.Bool{Status: pgtype.Null}
	}
	return pgtype.Bool{Bool: *b, Status: pgtype.Present}
}

func jsonbOrNull(data json.RawMessage) pgtype.JSONB {
	if len(data) == 0 {
		return pgtype.JSONB{Status: pgtype.Null}
	}
	return pgtype.JSONB{Bytes: data, Status: pgtype.Present}
}

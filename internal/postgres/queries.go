package postgres

import (
	"context"

	"github.com/jackc/pgtype"
)

const taskColumns = `id, user_id, client, contact, type, stack, domain, description, price, payment_status,
       deadline, deadline_timestamp, hosting, col_id, order_position, is_recurring, assets_link,
       uptime_status::text, public_uuid, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var i Task
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Client,
		&i.Contact,
		&i.Type,
		&i.Stack,
		&i.Domain,
		&i.Description,
		&i.Price,
		&i.PaymentStatus,
		&i.Deadline,
		&i.DeadlineTimestamp,
		&i.Hosting,
		&i.ColID,
		&i.OrderPosition,
		&i.IsRecurring,
		&i.AssetsLink,
		&i.UptimeStatus,
		&i.PublicUuid,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) queryTasks(ctx context.Context, sql string, args ...interface{}) ([]Task, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Task
	for rows.Next() {
		i, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const taskExists = `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`

func (q *Queries) TaskExists(ctx context.Context, id int64) (bool, error) {
	row := q.db.QueryRow(ctx, taskExists, id)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const nextTaskID = `SELECT nextval('tasks_id_seq')`

func (q *Queries) NextTaskID(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, nextTaskID)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertTask = `INSERT INTO tasks (
    id, user_id, client, contact, type, stack, domain, description, price, payment_status,
    deadline, deadline_timestamp, hosting, col_id, order_position, is_recurring, assets_link, public_uuid
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING ` + taskColumns

type InsertTaskParams struct {
	ID                int64
	UserID            string
	Client            string
	Contact           pgtype.Text
	Type              pgtype.Text
	Stack             pgtype.Text
	Domain            pgtype.Text
	Description       pgtype.Text
	Price             float64
	PaymentStatus     pgtype.Text
	Deadline          pgtype.Text
	DeadlineTimestamp pgtype.Int8
	Hosting           pgtype.Text
	ColID             int16
	OrderPosition     int32
	IsRecurring       bool
	AssetsLink        pgtype.Text
	PublicUuid        pgtype.Text
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) (Task, error) {
	row := q.db.QueryRow(ctx, insertTask,
		arg.ID,
		arg.UserID,
		arg.Client,
		arg.Contact,
		arg.Type,
		arg.Stack,
		arg.Domain,
		arg.Description,
		arg.Price,
		arg.PaymentStatus,
		arg.Deadline,
		arg.DeadlineTimestamp,
		arg.Hosting,
		arg.ColID,
		arg.OrderPosition,
		arg.IsRecurring,
		arg.AssetsLink,
		arg.PublicUuid,
	)
	return scanTask(row)
}

const getTaskByIDAndOwner = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`

func (q *Queries) GetTaskByIDAndOwner(ctx context.Context, id int64, userID string) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, getTaskByIDAndOwner, id, userID))
}

const listTasksByOwner = `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1
ORDER BY col_id, order_position, id`

func (q *Queries) ListTasksByOwner(ctx context.Context, userID string) ([]Task, error) {
	return q.queryTasks(ctx, listTasksByOwner, userID)
}

const updateTaskPlacement = `UPDATE tasks
SET col_id = $3, order_position = $4, updated_at = NOW()
WHERE id = $1 AND user_id = $2
RETURNING ` + taskColumns

type UpdateTaskPlacementParams struct {
	ID            int64
	UserID        string
	ColID         int16
	OrderPosition int32
}

func (q *Queries) UpdateTaskPlacement(ctx context.Context, arg UpdateTaskPlacementParams) (Task, error) {
	row := q.db.QueryRow(ctx, updateTaskPlacement, arg.ID, arg.UserID, arg.ColID, arg.OrderPosition)
	return scanTask(row)
}

const updateTaskFields = `UPDATE tasks
SET client             = COALESCE($3::text, client),
    contact            = COALESCE($4::text, contact),
    type               = COALESCE($5::text, type),
    stack              = COALESCE($6::text, stack),
    domain             = COALESCE($7::text, domain),
    description        = COALESCE($8::text, description),
    price              = COALESCE($9::double precision, price),
    payment_status     = COALESCE($10::text, payment_status),
    deadline           = COALESCE($11::text, deadline),
    deadline_timestamp = COALESCE($12::bigint, deadline_timestamp),
    hosting            = COALESCE($13::text, hosting),
    is_recurring       = COALESCE($14::boolean, is_recurring),
    assets_link        = COALESCE($15::text, assets_link),
    col_id             = COALESCE($16::smallint, col_id),
    order_position     = COALESCE($17::integer, order_position),
    updated_at         = NOW()
WHERE id = $1 AND user_id = $2
RETURNING ` + taskColumns

type UpdateTaskFieldsParams struct {
	ID                int64
	UserID            string
	Client            pgtype.Text
	Contact           pgtype.Text
	Type              pgtype.Text
	Stack             pgtype.Text
	Domain            pgtype.Text
	Description       pgtype.Text
	Price             pgtype.Float8
	PaymentStatus     pgtype.Text
	Deadline          pgtype.Text
	DeadlineTimestamp pgtype.Int8
	Hosting           pgtype.Text
	IsRecurring       pgtype.Bool
	AssetsLink        pgtype.Text
	ColID             pgtype.Int2
	OrderPosition     pgtype.Int4
}

func (q *Queries) UpdateTaskFields(ctx context.Context, arg UpdateTaskFieldsParams) (Task, error) {
	row := q.db.QueryRow(ctx, updateTaskFields,
		arg.ID,
		arg.UserID,
		arg.Client,
		arg.Contact,
		arg.Type,
		arg.Stack,
		arg.Domain,
		arg.Description,
		arg.Price,
		arg.PaymentStatus,
		arg.Deadline,
		arg.DeadlineTimestamp,
		arg.Hosting,
		arg.IsRecurring,
		arg.AssetsLink,
		arg.ColID,
		arg.OrderPosition,
	)
	return scanTask(row)
}

const deleteTask = `DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING ` + taskColumns

func (q *Queries) DeleteTask(ctx context.Context, id int64, userID string) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, deleteTask, id, userID))
}

const setPublicUuid = `UPDATE tasks
SET public_uuid = COALESCE(public_uuid, $3), updated_at = NOW()
WHERE id = $1 AND user_id = $2
RETURNING ` + taskColumns

func (q *Queries) SetPublicUuid(ctx context.Context, id int64, userID string, publicUuid string) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, setPublicUuid, id, userID, publicUuid))
}

const getTaskByPublicUuid = `SELECT ` + taskColumns + ` FROM tasks WHERE public_uuid = $1`

func (q *Queries) GetTaskByPublicUuid(ctx context.Context, publicUuid string) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, getTaskByPublicUuid, publicUuid))
}

const listTasksWithDomain = `SELECT ` + taskColumns + ` FROM tasks
WHERE domain IS NOT NULL AND domain <> ''
ORDER BY id
LIMIT $1`

func (q *Queries) ListTasksWithDomain(ctx context.Context, limit int32) ([]Task, error) {
	return q.queryTasks(ctx, listTasksWithDomain, limit)
}

const updateUptimeStatus = `UPDATE tasks SET uptime_status = $2::uptime_status WHERE id = $1`

func (q *Queries) UpdateUptimeStatus(ctx context.Context, id int64, status string) (int64, error) {
	result, err := q.db.Exec(ctx, updateUptimeStatus, id, status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// The task may be gone by the time an entry is written, its id is then stored as NULL.
const insertActivity = `INSERT INTO activity_log (user_id, task_id, action_type, action_description, old_data, new_data, created_at)
VALUES ($1, (SELECT id FROM tasks WHERE id = $2), $3::activity_action, $4, $5, $6, COALESCE($7, NOW()))`

type InsertActivityParams struct {
	UserID            string
	TaskID            pgtype.Int8
	ActionType        string
	ActionDescription pgtype.Text
	OldData           pgtype.JSONB
	NewData           pgtype.JSONB
	CreatedAt         pgtype.Timestamptz
}

func (q *Queries) InsertActivity(ctx context.Context, arg InsertActivityParams) error {
	_, err := q.db.Exec(ctx, insertActivity,
		arg.UserID,
		arg.TaskID,
		arg.ActionType,
		arg.ActionDescription,
		arg.OldData,
		arg.NewData,
		arg.CreatedAt,
	)
	return err
}

const listActivityByOwner = `SELECT id, user_id, task_id, action_type::text, action_description, old_data, new_data, created_at
FROM activity_log
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListActivityByOwner(ctx context.Context, userID string, limit, offset int32) ([]ActivityLog, error) {
	rows, err := q.db.Query(ctx, listActivityByOwner, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ActivityLog
	for rows.Next() {
		var i ActivityLog
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.TaskID,
			&i.ActionType,
			&i.ActionDescription,
			&i.OldData,
			&i.NewData,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

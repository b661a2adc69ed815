package postgres

import (
	"github.com/jackc/pgtype"
)

type Task struct {
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
	UptimeStatus      string
	PublicUuid        pgtype.Text
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}

type ActivityLog struct {
	ID                int64
	UserID            string
	TaskID            pgtype.Int8
	ActionType        string
	ActionDescription pgtype.Text
	OldData           pgtype.JSONB
	NewData           pgtype.JSONB
	CreatedAt         pgtype.Timestamptz
}

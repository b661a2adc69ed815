package domain

// Stage and position are accepted under the canonical names and under the legacy
// col_id/order_position spellings still sent by older clients.

type RouterRequestTaskFields struct {
	Contact           *string  `json:"contact" binding:"omitempty,max=255"`
	Type              *string  `json:"type" binding:"omitempty,max=100"`
	Stack             *string  `json:"stack" binding:"omitempty,max=255"`
	Domain            *string  `json:"domain" binding:"omitempty,max=255"`
	Description       *string  `json:"description" binding:"omitempty,max=5000"`
	Price             *float64 `json:"price" binding:"omitempty,min=0"`
	PaymentStatus     *string  `json:"payment_status" binding:"omitempty,max=50"`
	Deadline          *string  `json:"deadline" binding:"omitempty,max=50"`
	DeadlineTimestamp *int64   `json:"deadline_timestamp" binding:"omitempty,min=0"`
	Hosting           *string  `json:"hosting" binding:"omitempty,max=50"`
	IsRecurring       *bool    `json:"is_recurring"`
	AssetsLink        *string  `json:"assets_link" binding:"omitempty,max=1000"`
}

type RouterRequestPlacement struct {
	Stage         *int `json:"stage" binding:"omitempty,validate_stage"`
	ColID         *int `json:"col_id" binding:"omitempty,validate_stage"`
	Position      *int `json:"position" binding:"omitempty,min=0,max=2147483647"`
	OrderPosition *int `json:"order_position" binding:"omitempty,min=0,max=2147483647"`
}

// Resolve returns the canonical stage and position, preferring the canonical
// spelling when a client sends both.
func (p RouterRequestPlacement) Resolve() (stage, position *int) {
	stage = p.Stage
	if stage == nil {
		stage = p.ColID
	}
	position = p.Position
	if position == nil {
		position = p.OrderPosition
	}
	return stage, position
}

type RouterRequestCreateTask struct {
	ID     *int64  `json:"id" binding:"omitempty,min=1"`
	Client *string `json:"client" binding:"required,max=255"`
	RouterRequestPlacement
	RouterRequestTaskFields
	PublicLink bool `json:"public_link"`
}

type RouterRequestUpdateTask struct {
	Client *string `json:"client" binding:"omitempty,max=255"`
	RouterRequestPlacement
	RouterRequestTaskFields
}

type RouterRequestMoveTask struct {
	RouterRequestPlacement
}

type RouterRequestCreateLead struct {
	Client      string `json:"client" binding:"max=255"`
	Contact     string `json:"contact" binding:"max=255"`
	Description string `json:"description" binding:"max=5000"`
	Source      string `json:"source" binding:"max=100"`
}

// Fields converts the optional request fields into TaskFields.
func (r RouterRequestTaskFields) Fields() TaskFields {
	return TaskFields{
		Contact:           r.Contact,
		Type:              r.Type,
		Stack:             r.Stack,
		Domain:            r.Domain,
		Description:       r.Description,
		Price:             r.Price,
		PaymentStatus:     r.PaymentStatus,
		Deadline:          r.Deadline,
		DeadlineTimestamp: r.DeadlineTimestamp,
		Hosting:           r.Hosting,
		IsRecurring:       r.IsRecurring,
		AssetsLink:        r.AssetsLink,
	}
}

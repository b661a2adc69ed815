package domain

import "time"

type Stage int

const (
	Discovery Stage = iota
	Agreement
	Build
	Live
)

const (
	MinStage = Discovery
	MaxStage = Live
)

var stageNames = map[Stage]string{
	Discovery: "Discovery",
	Agreement: "Agreement",
	Build:     "Build",
	Live:      "Live",
}

func (s Stage) Valid() bool {
	return s >= MinStage && s <= MaxStage
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ProgressPercent reports how far along the pipeline a stage is, Live being 100.
func (s Stage) ProgressPercent() int {
	if !s.Valid() {
		return 0
	}
	return (int(s) + 1) * 100 / (int(MaxStage) + 1)
}

type UptimeStatus string

const (
	UptimeUnknown UptimeStatus = "unknown"
	UptimeUp      UptimeStatus = "up"
	UptimeDown    UptimeStatus = "down"
)

type Task struct {
	ID                int64        `json:"id"`
	Owner             string       `json:"owner"`
	Stage             Stage        `json:"stage"`
	Position          int          `json:"position"`
	Client            string       `json:"client"`
	Contact           string       `json:"contact,omitempty"`
	Type              string       `json:"type,omitempty"`
	Stack             string       `json:"stack,omitempty"`
	Domain            string       `json:"domain,omitempty"`
	Description       string       `json:"description,omitempty"`
	Price             float64      `json:"price"`
	PaymentStatus     string       `json:"payment_status,omitempty"`
	Deadline          string       `json:"deadline,omitempty"`
	DeadlineTimestamp *int64       `json:"deadline_timestamp,omitempty"`
	Hosting           string       `json:"hosting,omitempty"`
	IsRecurring       bool         `json:"is_recurring"`
	AssetsLink        string       `json:"assets_link,omitempty"`
	UptimeStatus      UptimeStatus `json:"uptime_status"`
	PublicToken       string       `json:"public_token,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TaskFields holds the engagement fields that user-facing mutations may set.
// Nil pointers mean "leave unchanged" on update.
type TaskFields struct {
	Client            *string
	Contact           *string
	Type              *string
	Stack             *string
	Domain            *string
	Description       *string
	Price             *float64
	PaymentStatus     *string
	Deadline          *string
	DeadlineTimestamp *int64
	Hosting           *string
	IsRecurring       *bool
	AssetsLink        *string
}

func (f TaskFields) IsEmpty() bool {
	return f == TaskFields{}
}

// Apply copies every set field onto t.
func (f TaskFields) Apply(t *Task) {
	if f.Client != nil {
		t.Client = *f.Client
	}
	if f.Contact != nil {
		t.Contact = *f.Contact
	}
	if f.Type != nil {
		t.Type = *f.Type
	}
	if f.Stack != nil {
		t.Stack = *f.Stack
	}
	if f.Domain != nil {
		t.Domain = *f.Domain
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Price != nil {
		t.Price = *f.Price
	}
	if f.PaymentStatus != nil {
		t.PaymentStatus = *f.PaymentStatus
	}
	if f.Deadline != nil {
		t.Deadline = *f.Deadline
	}
	if f.DeadlineTimestamp != nil {
		ts := *f.DeadlineTimestamp
		t.DeadlineTimestamp = &ts
	}
	if f.Hosting != nil {
		t.Hosting = *f.Hosting
	}
	if f.IsRecurring != nil {
		t.IsRecurring = *f.IsRecurring
	}
	if f.AssetsLink != nil {
		t.AssetsLink = *f.AssetsLink
	}
}

// Placement is a stage/position pair. A nil Placement on update keeps the stored one.
type Placement struct {
	Stage    Stage
	Position int
}

type PublicStatus struct {
	ClientName      string    `json:"clientName"`
	StageName       string    `json:"stageName"`
	ProgressPercent int       `json:"progressPercent"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

func NewPublicStatus(t *Task) PublicStatus {
	return PublicStatus{
		ClientName:      t.Client,
		StageName:       t.Stage.String(),
		ProgressPercent: t.Stage.ProgressPercent(),
		LastUpdated:     t.UpdatedAt,
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/sf7293/pipeline-board/internal/idalloc"
	"github.com/sf7293/pipeline-board/pkg/sanitize"
)

const (
	LeadsActorName     = "System (GTM)"
	defaultLeadSource  = "Lead Site"
	defaultLeadPayment = "Pending"

	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	handlePattern  = regexp.MustCompile(`^@?[\w\-.]+$`)
	nonDigitRegexp = regexp.MustCompile(`\D`)
)

// Publisher is the broadcast side of a committed mutation.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// ServerLogic is the ordering engine. It is the only writer of stage and position,
// and every successful mutation is persisted, then published, then returned.
type ServerLogic struct {
	storage      domain.Storage
	allocator    idalloc.Allocator
	publisher    Publisher
	leadsOwnerID string
	now          func() time.Time
}

func NewServerLogic(storage domain.Storage, allocator idalloc.Allocator, publisher Publisher, leadsOwnerID string) *ServerLogic {
	return &ServerLogic{
		storage:      storage,
		allocator:    allocator,
		publisher:    publisher,
		leadsOwnerID: leadsOwnerID,
		now:          time.Now,
	}
}

func (s *ServerLogic) CreateTask(ctx context.Context, user domain.User, req domain.RouterRequestCreateTask) (*domain.Task, error) {
	stage, position := req.Resolve()
	placement, err := resolvePlacement(stage, position, domain.Placement{Stage: domain.Discovery})
	if err != nil {
		return nil, err
	}

	fields, err := sanitizeFields(req.Fields())
	if err != nil {
		return nil, err
	}

	client := ""
	if req.Client != nil {
		client = sanitize.String(*req.Client, 255)
	}
	if client == "" {
		return nil, errval.NewValidationError("client", "is required")
	}

	var proposed int64
	if req.ID != nil {
		proposed = *req.ID
	}
	id, err := s.allocator.Allocate(ctx, proposed)
	if err != nil {
		return nil, s.storageError(ctx, "allocator.Allocate", err)
	}

	task := &domain.Task{
		ID:       id,
		Owner:    user.ID,
		Stage:    placement.Stage,
		Position: placement.Position,
		Client:   client,
	}
	fields.Apply(task)
	if req.PublicLink {
		task.PublicToken = uuid.NewString()
	}

	created, err := s.storage.InsertTask(ctx, task)
	if err != nil {
		return nil, s.storageError(ctx, "storage.InsertTask", err)
	}

	s.publish(ctx, domain.EventCreated, user, created, nil,
		fmt.Sprintf("created %q in %s", created.Client, created.Stage))

	return created, nil
}

func (s *ServerLogic) MoveTask(ctx context.Context, user domain.User, taskID int64, req domain.RouterRequestMoveTask) (*domain.Task, error) {
	stage, position := req.Resolve()
	if stage == nil {
		return nil, errval.NewValidationError("stage", "is required")
	}
	if position == nil {
		return nil, errval.NewValidationError("position", "is required")
	}
	placement, err := resolvePlacement(stage, position, domain.Placement{})
	if err != nil {
		return nil, err
	}

	previous, err := s.storage.GetTask(ctx, taskID, user.ID)
	if err != nil {
		return nil, s.storageError(ctx, "storage.GetTask", err)
	}

	moved, err := s.storage.UpdateTaskPlacement(ctx, taskID, user.ID, placement)
	if err != nil {
		return nil, s.storageError(ctx, "storage.UpdateTaskPlacement", err)
	}

	description := fmt.Sprintf("moved %q from %s to %s", moved.Client, previous.Stage, moved.Stage)
	if previous.Stage == moved.Stage {
		description = fmt.Sprintf("reordered %q in %s", moved.Client, moved.Stage)
	}
	s.publish(ctx, domain.EventMoved, user, moved, previous, description)

	return moved, nil
}

// UpdateTask applies a partial edit. Stage and position change only when the request
// names them; a missing half of the pair keeps its stored value.
func (s *ServerLogic) UpdateTask(ctx context.Context, user domain.User, taskID int64, req domain.RouterRequestUpdateTask) (*domain.Task, error) {
	fields, err := sanitizeFields(req.Fields())
	if err != nil {
		return nil, err
	}
	if req.Client != nil {
		client := sanitize.String(*req.Client, 255)
		if client == "" {
			return nil, errval.NewValidationError("client", "must not be empty")
		}
		fields.Client = &client
	}

	stage, position := req.Resolve()
	if fields.IsEmpty() && stage == nil && position == nil {
		return nil, errval.NewValidationError("body", "no fields to update")
	}

	previous, err := s.storage.GetTask(ctx, taskID, user.ID)
	if err != nil {
		return nil, s.storageError(ctx, "storage.GetTask", err)
	}

	var placement *domain.Placement
	if stage != nil || position != nil {
		resolved, err := resolvePlacement(stage, position, domain.Placement{Stage: previous.Stage, Position: previous.Position})
		if err != nil {
			return nil, err
		}
		placement = &resolved
	}

	updated, err := s.storage.UpdateTaskFields(ctx, taskID, user.ID, fields, placement)
	if err != nil {
		return nil, s.storageError(ctx, "storage.UpdateTaskFields", err)
	}

	s.publish(ctx, domain.EventUpdated, user, updated, previous,
		fmt.Sprintf("updated %q", updated.Client))

	return updated, nil
}

func (s *ServerLogic) DeleteTask(ctx context.Context, user domain.User, taskID int64) error {
	deleted, err := s.storage.DeleteTask(ctx, taskID, user.ID)
	if err != nil {
		return s.storageError(ctx, "storage.DeleteTask", err)
	}

	s.publish(ctx, domain.EventDeleted, user, nil, deleted,
		fmt.Sprintf("deleted %q", deleted.Client))

	return nil
}

func (s *ServerLogic) GetTask(ctx context.Context, user domain.User, taskID int64) (*domain.Task, error) {
	task, err := s.storage.GetTask(ctx, taskID, user.ID)
	if err != nil {
		return nil, s.storageError(ctx, "storage.GetTask", err)
	}
	return task, nil
}

func (s *ServerLogic) ListTasks(ctx context.Context, user domain.User) ([]*domain.Task, error) {
	tasks, err := s.storage.ListTasksByOwner(ctx, user.ID)
	if err != nil {
		return nil, s.storageError(ctx, "storage.ListTasksByOwner", err)
	}
	return tasks, nil
}

// EnablePublicLink gives the task a public token, keeping an existing one.
func (s *ServerLogic) EnablePublicLink(ctx context.Context, user domain.User, taskID int64) (*domain.Task, error) {
	previous, err := s.storage.GetTask(ctx, taskID, user.ID)
	if err != nil {
		return nil, s.storageError(ctx, "storage.GetTask", err)
	}
	if previous.PublicToken != "" {
		return previous, nil
	}

	task, err := s.storage.SetPublicToken(ctx, taskID, user.ID, uuid.NewString())
	if err != nil {
		return nil, s.storageError(ctx, "storage.SetPublicToken", err)
	}

	s.publish(ctx, domain.EventUpdated, user, task, previous,
		fmt.Sprintf("shared a public status link for %q", task.Client))

	return task, nil
}

// PublicStatus is the unauthenticated read path. Malformed and unknown tokens both
// report errval.ErrNotFound.
func (s *ServerLogic) PublicStatus(ctx context.Context, token string) (domain.PublicStatus, error) {
	if _, err := uuid.Parse(token); err != nil {
		return domain.PublicStatus{}, errval.ErrNotFound
	}

	task, err := s.storage.GetTaskByPublicToken(ctx, token)
	if err != nil {
		return domain.PublicStatus{}, s.storageError(ctx, "storage.GetTaskByPublicToken", err)
	}

	return domain.NewPublicStatus(task), nil
}

type LeadResult struct {
	Task *domain.Task
	// Analytics is set for bare WhatsApp click pings, which never create a card.
	Analytics bool
}

// CreateLead turns a public intake form into a card at the top of Discovery, owned
// by the configured leads owner.
func (s *ServerLogic) CreateLead(ctx context.Context, req domain.RouterRequestCreateLead) (*LeadResult, error) {
	if req.Source == "WhatsApp" && req.Client == "" && req.Contact == "" {
		slog.Info("whatsapp click registered")
		return &LeadResult{Analytics: true}, nil
	}

	client := sanitize.String(req.Client, 255)
	contact := sanitize.String(req.Contact, 255)
	description := sanitize.String(req.Description, 5000)
	source := sanitize.String(req.Source, 100)
	if source == "" {
		source = defaultLeadSource
	}

	if client == "" {
		return nil, errval.NewValidationError("client", "is required")
	}
	if contact == "" {
		return nil, errval.NewValidationError("contact", "is required")
	}
	if !validContact(contact) {
		return nil, errval.NewValidationError("contact", "must be an email, a phone number or a @handle")
	}

	id, err := s.allocator.Allocate(ctx, 0)
	if err != nil {
		return nil, s.storageError(ctx, "allocator.Allocate", err)
	}

	task := &domain.Task{
		ID:            id,
		Owner:         s.leadsOwnerID,
		Stage:         domain.Discovery,
		Position:      0,
		Client:        client,
		Contact:       contact,
		Description:   description,
		Type:          source,
		PaymentStatus: defaultLeadPayment,
	}

	created, err := s.storage.InsertTask(ctx, task)
	if err != nil {
		return nil, s.storageError(ctx, "storage.InsertTask", err)
	}

	s.publish(ctx, domain.EventCreated, domain.User{ID: s.leadsOwnerID, Name: LeadsActorName}, created, nil,
		fmt.Sprintf("new lead from %s via %s", created.Client, source))

	return &LeadResult{Task: created}, nil
}

func (s *ServerLogic) ListActivities(ctx context.Context, user domain.User, limit, offset int) ([]*domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	limit = min(limit, maxActivityLimit)
	offset = max(offset, 0)

	entries, err := s.storage.ListActivities(ctx, user.ID, int32(limit), int32(offset))
	if err != nil {
		return nil, s.storageError(ctx, "storage.ListActivities", err)
	}
	return entries, nil
}

func (s *ServerLogic) publish(ctx context.Context, eventType domain.EventType, user domain.User, task, previous *domain.Task, description string) {
	event := domain.Event{
		Type:     eventType,
		Task:     task,
		Previous: previous,
		At:       s.now().UTC(),
		Actor: domain.Actor{
			UserID:            user.ID,
			UserName:          user.Name,
			ActionDescription: description,
		},
	}
	if task != nil {
		event.TaskID = task.ID
	} else if previous != nil {
		event.TaskID = previous.ID
	}

	s.publisher.Publish(ctx, event)
}

// storageError keeps the caller-facing sentinels and hides everything else behind
// errval.ErrInternal.
func (s *ServerLogic) storageError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, errval.ErrNotFound),
		errors.Is(err, errval.ErrDuplicateID),
		errors.Is(err, errval.ErrValidation):
		return err
	}

	slog.ErrorContext(ctx, "error occurred while calling "+op, "error", err)
	return errval.ErrInternal
}

func resolvePlacement(stage, position *int, fallback domain.Placement) (domain.Placement, error) {
	placement := fallback
	if stage != nil {
		placement.Stage = domain.Stage(*stage)
	}
	if position != nil {
		placement.Position = *position
	}

	if !placement.Stage.Valid() {
		return domain.Placement{}, errval.NewValidationError("stage", fmt.Sprintf("must be between %d and %d", domain.MinStage, domain.MaxStage))
	}
	if placement.Position < 0 {
		return domain.Placement{}, errval.NewValidationError("position", "must not be negative")
	}
	// Positions are stored as int4
	if placement.Position > math.MaxInt32 {
		return domain.Placement{}, errval.NewValidationError("position", fmt.Sprintf("must be at most %d", math.MaxInt32))
	}
	return placement, nil
}

var fieldLimits = []struct {
	name  string
	field func(*domain.TaskFields) **string
	max   int
}{
	{"contact", func(f *domain.TaskFields) **string { return &f.Contact }, 255},
	{"type", func(f *domain.TaskFields) **string { return &f.Type }, 100},
	{"stack", func(f *domain.TaskFields) **string { return &f.Stack }, 255},
	{"domain", func(f *domain.TaskFields) **string { return &f.Domain }, 255},
	{"description", func(f *domain.TaskFields) **string { return &f.Description }, 5000},
	{"payment_status", func(f *domain.TaskFields) **string { return &f.PaymentStatus }, 50},
	{"deadline", func(f *domain.TaskFields) **string { return &f.Deadline }, 50},
	{"hosting", func(f *domain.TaskFields) **string { return &f.Hosting }, 50},
	{"assets_link", func(f *domain.TaskFields) **string { return &f.AssetsLink }, 1000},
}

func sanitizeFields(fields domain.TaskFields) (domain.TaskFields, error) {
	for _, limit := range fieldLimits {
		ptr := limit.field(&fields)
		*ptr = sanitize.Ptr(*ptr, limit.max)
	}

	if fields.Price != nil && *fields.Price < 0 {
		return domain.TaskFields{}, errval.NewValidationError("price", "must not be negative")
	}
	if fields.DeadlineTimestamp != nil && *fields.DeadlineTimestamp < 0 {
		return domain.TaskFields{}, errval.NewValidationError("deadline_timestamp", "must not be negative")
	}
	if fields.Domain != nil {
		if domainName := *fields.Domain; strings.ContainsAny(domainName, " \t") {
			return domain.TaskFields{}, errval.NewValidationError("domain", "must not contain spaces")
		}
	}

	return fields, nil
}

func validContact(contact string) bool {
	if emailPattern.MatchString(contact) || handlePattern.MatchString(contact) {
		return true
	}
	return len(nonDigitRegexp.ReplaceAllString(contact, "")) >= 8
}

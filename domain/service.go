package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskFilter narrows task listings. An empty OwnerID is only honored for
// admin-scoped listings and produces a cross-partition query.
type TaskFilter struct {
	OwnerID         string
	BoardID         string
	AssigneeID      string
	Status          Status
	IncludeArchived bool
}

// Store is the persistence contract consumed by the task service. UpdateTask
// is conditional on the task's ETag and fails with ErrConcurrencyConflict
// when the persisted row has moved on; Get methods return nil without error
// for absent entities.
type Store interface {
	GetTask(ctx context.Context, ownerID, taskID string) (*Task, error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, ownerID, taskID string) error
	ListTasks(ctx context.Context, f TaskFilter, pageToken string, pageSize int) ([]Task, string, error)

	GetBoard(ctx context.Context, ownerID, boardID string) (*Board, error)
	InsertBoard(ctx context.Context, b Board) error
	DeleteBoard(ctx context.Context, ownerID, boardID string) error
	ListBoards(ctx context.Context, ownerID string) ([]Board, error)

	GetAgent(ctx context.Context, ownerID, agentID string) (*Agent, error)
	UpsertAgent(ctx context.Context, a Agent) error
	ListAgents(ctx context.Context, ownerID string) ([]Agent, error)

	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, u User) error
}

// Publisher delivers change events to connected clients. Delivery is
// best-effort: implementations must never block or fail the mutation that
// produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent)
}

// TaskService applies the task state machine against the store and fans out
// one change event per committed mutation. Claim and update paths rely on
// ETag-conditional writes, reloading and re-validating on conflict, so two
// concurrent claims resolve to exactly one winner.
type TaskService struct {
	store  Store
	events Publisher
	now    func() int64
}

// NewTaskService creates a TaskService. The events publisher may be nil in
// contexts with no connected clients (tooling, tests).
func NewTaskService(store Store, events Publisher) *TaskService {
	return &TaskService{
		store:  store,
		events: events,
		now:    func() int64 { return time.Now().UnixNano() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *TaskService) WithClock(now func() int64) *TaskService {
	s.now = now
	return s
}

func (s *TaskService) publish(ctx context.Context, kind ChangeKind, t Task) {
	if s.events == nil {
		return
	}
	snapshot := t
	s.events.Publish(ctx, ChangeEvent{
		TaskID:  t.ID,
		BoardID: t.BoardID,
		OwnerID: t.OwnerID,
		Kind:    kind,
		Task:    &snapshot,
		Time:    s.now(),
	})
}

// CreateTask creates a task in the inbox of the given board.
func (s *TaskService) CreateTask(ctx context.Context, p Principal, boardID, name, description string) (Task, error) {
	if !p.CanMutate(p.OwnerID) {
		return Task{}, ForbiddenError{Reason: "not a board owner"}
	}
	if name == "" {
		return Task{}, InvalidTransitionError{Field: "name", Reason: "must not be empty"}
	}
	board, err := s.store.GetBoard(ctx, p.OwnerID, boardID)
	if err != nil {
		return Task{}, err
	}
	if board == nil {
		return Task{}, ErrNotFound
	}
	now := s.now()
	t := Task{
		ID:          uuid.NewString(),
		BoardID:     board.ID,
		OwnerID:     board.OwnerID,
		Name:        name,
		Description: description,
		Status:      StatusInbox,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return Task{}, err
	}
	s.publish(ctx, ChangeCreated, t)
	return t, nil
}

// GetTask loads a single task within the principal's scope.
func (s *TaskService) GetTask(ctx context.Context, p Principal, taskID string) (Task, error) {
	t, err := s.store.GetTask(ctx, p.OwnerID, taskID)
	if err != nil {
		return Task{}, err
	}
	if t == nil || !p.CanRead(t.OwnerID) {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

// UpdateTask applies a patch through the state machine. The completed event
// kind is used when the patch moves the task into done; all other patches
// emit updated.
func (s *TaskService) UpdateTask(ctx context.Context, p Principal, taskID string, patch TaskPatch) (Task, error) {
	for {
		cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
		if err != nil {
			return Task{}, err
		}
		if cur == nil {
			return Task{}, ErrNotFound
		}
		if !p.CanMutate(cur.OwnerID) {
			return Task{}, ForbiddenError{Reason: "not a board owner"}
		}
		if patch.AssigneeID != nil && *patch.AssigneeID != "" {
			if err := s.checkAgent(ctx, cur.OwnerID, *patch.AssigneeID, cur.BoardID); err != nil {
				return Task{}, err
			}
		}
		wasDone := cur.Status == StatusDone
		next, err := ApplyPatch(*cur, patch, s.now())
		if err != nil {
			return Task{}, err
		}
		if err := s.store.UpdateTask(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return Task{}, err
		}
		kind := ChangeUpdated
		if !wasDone && next.Status == StatusDone {
			kind = ChangeCompleted
		}
		s.publish(ctx, kind, next)
		return next, nil
	}
}

// ClaimTask records agentID as the exclusive active worker of the task. The
// conditional write makes the claim a compare-and-swap: when a concurrent
// claim wins the race, the retry observes the persisted claimant and fails
// with AlreadyClaimedError.
func (s *TaskService) ClaimTask(ctx context.Context, p Principal, taskID, agentID string) (Task, error) {
	if agentID == "" {
		agentID = p.ActorID()
	}
	if reason, ok := p.CanActFor(agentID); !ok {
		return Task{}, ForbiddenError{Reason: reason}
	}
	for {
		cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
		if err != nil {
			return Task{}, err
		}
		if cur == nil {
			return Task{}, ErrNotFound
		}
		if !p.CanMutate(cur.OwnerID) {
			return Task{}, ForbiddenError{Reason: "not a board owner"}
		}
		if err := s.checkAgent(ctx, cur.OwnerID, agentID, cur.BoardID); err != nil {
			return Task{}, err
		}
		next, err := Claim(*cur, agentID, s.now())
		if err != nil {
			return Task{}, err
		}
		if err := s.store.UpdateTask(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return Task{}, err
		}
		s.publish(ctx, ChangeClaimed, next)
		return next, nil
	}
}

// UnclaimTask releases the task's claim. Agents may only release their own
// claim; the board owner and admins may release any.
func (s *TaskService) UnclaimTask(ctx context.Context, p Principal, taskID string) (Task, error) {
	for {
		cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
		if err != nil {
			return Task{}, err
		}
		if cur == nil {
			return Task{}, ErrNotFound
		}
		if !p.CanMutate(cur.OwnerID) {
			return Task{}, ForbiddenError{Reason: "not a board owner"}
		}
		if p.Kind == PrincipalAgent && cur.ClaimedBy != "" && cur.ClaimedBy != p.ID {
			return Task{}, ForbiddenError{Reason: "an agent may only release its own claim"}
		}
		next := Unclaim(*cur, s.now())
		if err := s.store.UpdateTask(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return Task{}, err
		}
		s.publish(ctx, ChangeUnclaimed, next)
		return next, nil
	}
}

// AssignTask designates agentID as responsible for the task.
func (s *TaskService) AssignTask(ctx context.Context, p Principal, taskID, agentID string) (Task, error) {
	if agentID == "" {
		return Task{}, InvalidAgentError{AgentID: agentID, Reason: "agent id required"}
	}
	for {
		cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
		if err != nil {
			return Task{}, err
		}
		if cur == nil {
			return Task{}, ErrNotFound
		}
		if !p.CanMutate(cur.OwnerID) {
			return Task{}, ForbiddenError{Reason: "not a board owner"}
		}
		if err := s.checkAgent(ctx, cur.OwnerID, agentID, cur.BoardID); err != nil {
			return Task{}, err
		}
		next := Assign(*cur, agentID, s.now())
		if err := s.store.UpdateTask(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return Task{}, err
		}
		s.publish(ctx, ChangeAssigned, next)
		return next, nil
	}
}

// UnassignTask clears the task's responsible agent.
func (s *TaskService) UnassignTask(ctx context.Context, p Principal, taskID string) (Task, error) {
	for {
		cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
		if err != nil {
			return Task{}, err
		}
		if cur == nil {
			return Task{}, ErrNotFound
		}
		if !p.CanMutate(cur.OwnerID) {
			return Task{}, ForbiddenError{Reason: "not a board owner"}
		}
		next := Unassign(*cur, s.now())
		if err := s.store.UpdateTask(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return Task{}, err
		}
		s.publish(ctx, ChangeUnassigned, next)
		return next, nil
	}
}

// DeleteTask removes the task. The deleted event carries the last snapshot
// so clients can drop it from views without a refetch.
func (s *TaskService) DeleteTask(ctx context.Context, p Principal, taskID string) error {
	cur, err := s.store.GetTask(ctx, p.OwnerID, taskID)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	if !p.CanMutate(cur.OwnerID) {
		return ForbiddenError{Reason: "not a board owner"}
	}
	if err := s.store.DeleteTask(ctx, cur.OwnerID, cur.ID); err != nil {
		return err
	}
	s.publish(ctx, ChangeDeleted, *cur)
	return nil
}

// ListTasks pages through tasks in the principal's scope.
func (s *TaskService) ListTasks(ctx context.Context, p Principal, f TaskFilter, pageToken string, pageSize int) ([]Task, string, error) {
	f.OwnerID = p.OwnerID
	return s.store.ListTasks(ctx, f, pageToken, pageSize)
}

// ListAllTasks is the admin-scoped cross-user listing.
func (s *TaskService) ListAllTasks(ctx context.Context, p Principal, pageToken string, pageSize int) ([]Task, string, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, "", err
	}
	return s.store.ListTasks(ctx, TaskFilter{}, pageToken, pageSize)
}

// NextTask returns the task the given auto-mode agent should pull next, or
// ErrNoTask when nothing qualifies.
func (s *TaskService) NextTask(ctx context.Context, p Principal, agentID string) (Task, error) {
	if agentID == "" {
		agentID = p.ActorID()
	}
	if reason, ok := p.CanActFor(agentID); !ok {
		return Task{}, ForbiddenError{Reason: reason}
	}
	agent, err := s.store.GetAgent(ctx, p.OwnerID, agentID)
	if err != nil {
		return Task{}, err
	}
	if agent == nil {
		// An auto-mode user pulling work directly acts as its own agent.
		if user, uerr := s.store.GetUser(ctx, agentID); uerr != nil {
			return Task{}, uerr
		} else if user == nil || !user.AutoMode {
			return Task{}, InvalidAgentError{AgentID: agentID, Reason: "unknown agent"}
		}
		agent = &Agent{ID: agentID, OwnerID: p.OwnerID}
	}
	var all []Task
	token := ""
	for {
		page, next, err := s.store.ListTasks(ctx, TaskFilter{OwnerID: p.OwnerID}, token, 0)
		if err != nil {
			return Task{}, err
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		token = next
	}
	next, ok := NextTask(all, *agent)
	if !ok {
		return Task{}, ErrNoTask
	}
	return next, nil
}

// CreateBoard creates a board owned by the principal's scope owner.
func (s *TaskService) CreateBoard(ctx context.Context, p Principal, name, icon, color string, position int) (Board, error) {
	if !p.CanMutate(p.OwnerID) {
		return Board{}, ForbiddenError{Reason: "not a board owner"}
	}
	if name == "" {
		return Board{}, InvalidTransitionError{Field: "name", Reason: "must not be empty"}
	}
	b := Board{
		ID:        uuid.NewString(),
		OwnerID:   p.OwnerID,
		Name:      name,
		Icon:      icon,
		Color:     color,
		Position:  position,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertBoard(ctx, b); err != nil {
		return Board{}, err
	}
	return b, nil
}

// ListBoards returns the boards in the principal's scope.
func (s *TaskService) ListBoards(ctx context.Context, p Principal) ([]Board, error) {
	return s.store.ListBoards(ctx, p.OwnerID)
}

// DeleteBoard removes an empty board. Deletion is refused with
// ErrBoardNotEmpty while the board still holds unarchived tasks.
func (s *TaskService) DeleteBoard(ctx context.Context, p Principal, boardID string) error {
	board, err := s.store.GetBoard(ctx, p.OwnerID, boardID)
	if err != nil {
		return err
	}
	if board == nil {
		return ErrNotFound
	}
	if !p.CanMutate(board.OwnerID) {
		return ForbiddenError{Reason: "not a board owner"}
	}
	tasks, _, err := s.store.ListTasks(ctx, TaskFilter{OwnerID: board.OwnerID, BoardID: boardID}, "", 1)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return ErrBoardNotEmpty
	}
	return s.store.DeleteBoard(ctx, board.OwnerID, boardID)
}

// ListAgents returns the agents in the principal's scope.
func (s *TaskService) ListAgents(ctx context.Context, p Principal) ([]Agent, error) {
	return s.store.ListAgents(ctx, p.OwnerID)
}

// TouchAgent upserts the calling agent's display identity and marks it
// active. Used for the request-scoped identity hints; failures are logged by
// the caller and never affect the main operation.
func (s *TaskService) TouchAgent(ctx context.Context, p Principal, name, emoji string) error {
	if p.Kind != PrincipalAgent {
		return nil
	}
	cur, err := s.store.GetAgent(ctx, p.OwnerID, p.ID)
	if err != nil {
		return err
	}
	agent := Agent{ID: p.ID, OwnerID: p.OwnerID, Slug: p.ID}
	if cur != nil {
		agent = *cur
	}
	if name != "" {
		agent.Name = name
	}
	if emoji != "" {
		agent.Emoji = emoji
	}
	agent.LastActiveAt = s.now()
	return s.store.UpsertAgent(ctx, agent)
}

// TouchUser refreshes a human principal's last-active timestamp.
func (s *TaskService) TouchUser(ctx context.Context, p Principal) {
	if p.Kind != PrincipalHuman {
		return
	}
	cur, err := s.store.GetUser(ctx, p.ID)
	if err != nil {
		log.WithError(err).WithField("user", p.ID).Debug("last-active refresh skipped")
		return
	}
	user := User{ID: p.ID}
	if cur != nil {
		user = *cur
	}
	user.LastActiveAt = s.now()
	if err := s.store.UpsertUser(ctx, user); err != nil {
		log.WithError(err).WithField("user", p.ID).Debug("last-active refresh failed")
	}
}

// ResolvePrincipal builds the request principal from the verified token
// identity. Humans are enriched with their stored admin and auto-mode flags.
func (s *TaskService) ResolvePrincipal(ctx context.Context, kind PrincipalKind, subject, ownerID string) (Principal, error) {
	p := Principal{Kind: kind, ID: subject, OwnerID: ownerID}
	if kind == PrincipalHuman {
		p.OwnerID = subject
		user, err := s.store.GetUser(ctx, subject)
		if err != nil {
			return Principal{}, err
		}
		if user != nil {
			p.Admin = user.Admin
			p.AutoMode = user.AutoMode
		}
	}
	return p, nil
}

func (s *TaskService) checkAgent(ctx context.Context, ownerID, agentID, boardID string) error {
	agent, err := s.store.GetAgent(ctx, ownerID, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		// Auto-mode users can claim under their own identity.
		user, uerr := s.store.GetUser(ctx, agentID)
		if uerr != nil {
			return uerr
		}
		if user != nil && user.AutoMode {
			return nil
		}
		return InvalidAgentError{AgentID: agentID, Reason: "unknown agent"}
	}
	if !agent.EligibleFor(boardID) {
		return InvalidAgentError{AgentID: agentID, Reason: "not eligible for board"}
	}
	return nil
}

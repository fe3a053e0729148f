package api

import (
	"context"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

// Service is the slice of the task service consumed by handlers.
type Service interface {
	ResolvePrincipal(ctx context.Context, kind domain.PrincipalKind, subject, ownerID string) (domain.Principal, error)

	CreateTask(ctx context.Context, p domain.Principal, boardID, name, description string) (domain.Task, error)
	GetTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error)
	UpdateTask(ctx context.Context, p domain.Principal, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, p domain.Principal, taskID string) error
	ListTasks(ctx context.Context, p domain.Principal, f domain.TaskFilter, pageToken string, pageSize int) ([]domain.Task, string, error)
	ListAllTasks(ctx context.Context, p domain.Principal, pageToken string, pageSize int) ([]domain.Task, string, error)

	ClaimTask(ctx context.Context, p domain.Principal, taskID, agentID string) (domain.Task, error)
	UnclaimTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error)
	AssignTask(ctx context.Context, p domain.Principal, taskID, agentID string) (domain.Task, error)
	UnassignTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error)
	NextTask(ctx context.Context, p domain.Principal, agentID string) (domain.Task, error)

	CreateBoard(ctx context.Context, p domain.Principal, name, icon, color string, position int) (domain.Board, error)
	ListBoards(ctx context.Context, p domain.Principal) ([]domain.Board, error)
	DeleteBoard(ctx context.Context, p domain.Principal, boardID string) error

	ListAgents(ctx context.Context, p domain.Principal) ([]domain.Agent, error)
	TouchAgent(ctx context.Context, p domain.Principal, name, emoji string) error
	TouchUser(ctx context.Context, p domain.Principal)
}

// InvalidContinuationTokenError is returned when a supplied pagination token
// is malformed or expired.
type InvalidContinuationTokenError interface {
	error
	InvalidContinuationToken()
}

// Authenticator extracts the verified token identity from an Authorization
// header.
type Authenticator interface {
	IdentityFromAuthHeader(string) (Identity, error)
}

// Deduper prevents re-application of mutations bearing an already seen
// idempotency key.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, ownerID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails so
	// the caller may retry with the same key.
	Remove(ctx context.Context, ownerID, key string) error
}

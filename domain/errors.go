package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrNotFound is returned for absent tasks, boards and agents. It is surfaced
// generically so callers cannot probe for resources outside their scope.
var ErrNotFound = errors.New("not found")

// ErrBoardNotEmpty rejects deletion of a board that still holds unarchived
// tasks.
var ErrBoardNotEmpty = errors.New("board has active tasks")

// ErrNoTask signals that no task qualifies for an agent's next pull. It is a
// normal outcome, not a failure.
var ErrNoTask = errors.New("no task available")

// ForbiddenError denies an authenticated principal an operation, carrying the
// reason used for error reporting.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return "forbidden: " + e.Reason }

// InvalidTransitionError rejects a task patch that violates the state
// machine's derivation rules, naming the offending field.
type InvalidTransitionError struct {
	Field  string
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition on %s: %s", e.Field, e.Reason)
}

// AlreadyClaimedError reports a claim conflict along with the agent currently
// holding the task.
type AlreadyClaimedError struct {
	AgentID string
}

func (e AlreadyClaimedError) Error() string {
	return fmt.Sprintf("task already claimed by %s", e.AgentID)
}

// InvalidAgentError reports a claim or assignment naming an agent that does
// not exist or is not eligible for the task's board.
type InvalidAgentError struct {
	AgentID string
	Reason  string
}

func (e InvalidAgentError) Error() string {
	return fmt.Sprintf("invalid agent %s: %s", e.AgentID, e.Reason)
}

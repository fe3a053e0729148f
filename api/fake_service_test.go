package api

import (
	"context"
	"sync"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

// fakeService implements Service with overridable function fields. Calls to
// methods without an override return zero values.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	resolvePrincipalFn func(kind domain.PrincipalKind, subject, ownerID string) (domain.Principal, error)
	createTaskFn       func(p domain.Principal, boardID, name, description string) (domain.Task, error)
	getTaskFn          func(p domain.Principal, taskID string) (domain.Task, error)
	updateTaskFn       func(p domain.Principal, taskID string, patch domain.TaskPatch) (domain.Task, error)
	deleteTaskFn       func(p domain.Principal, taskID string) error
	listTasksFn        func(p domain.Principal, f domain.TaskFilter, pageToken string, pageSize int) ([]domain.Task, string, error)
	claimTaskFn        func(p domain.Principal, taskID, agentID string) (domain.Task, error)
	unclaimTaskFn      func(p domain.Principal, taskID string) (domain.Task, error)
	assignTaskFn       func(p domain.Principal, taskID, agentID string) (domain.Task, error)
	unassignTaskFn     func(p domain.Principal, taskID string) (domain.Task, error)
	nextTaskFn         func(p domain.Principal, agentID string) (domain.Task, error)
	createBoardFn      func(p domain.Principal, name, icon, color string, position int) (domain.Board, error)
	listBoardsFn       func(p domain.Principal) ([]domain.Board, error)
	deleteBoardFn      func(p domain.Principal, boardID string) error
	listAgentsFn       func(p domain.Principal) ([]domain.Agent, error)
	touchAgentFn       func(p domain.Principal, name, emoji string) error
}

func (f *fakeService) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeService) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeService) ResolvePrincipal(ctx context.Context, kind domain.PrincipalKind, subject, ownerID string) (domain.Principal, error) {
	if f.resolvePrincipalFn != nil {
		return f.resolvePrincipalFn(kind, subject, ownerID)
	}
	p := domain.Principal{Kind: kind, ID: subject, OwnerID: ownerID}
	if kind == domain.PrincipalHuman {
		p.OwnerID = subject
	}
	return p, nil
}

func (f *fakeService) CreateTask(ctx context.Context, p domain.Principal, boardID, name, description string) (domain.Task, error) {
	f.record("CreateTask")
	if f.createTaskFn != nil {
		return f.createTaskFn(p, boardID, name, description)
	}
	return domain.Task{}, nil
}

func (f *fakeService) GetTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	f.record("GetTask")
	if f.getTaskFn != nil {
		return f.getTaskFn(p, taskID)
	}
	return domain.Task{}, nil
}

func (f *fakeService) UpdateTask(ctx context.Context, p domain.Principal, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	f.record("UpdateTask")
	if f.updateTaskFn != nil {
		return f.updateTaskFn(p, taskID, patch)
	}
	return domain.Task{}, nil
}

func (f *fakeService) DeleteTask(ctx context.Context, p domain.Principal, taskID string) error {
	f.record("DeleteTask")
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(p, taskID)
	}
	return nil
}

func (f *fakeService) ListTasks(ctx context.Context, p domain.Principal, filter domain.TaskFilter, pageToken string, pageSize int) ([]domain.Task, string, error) {
	f.record("ListTasks")
	if f.listTasksFn != nil {
		return f.listTasksFn(p, filter, pageToken, pageSize)
	}
	return nil, "", nil
}

func (f *fakeService) ListAllTasks(ctx context.Context, p domain.Principal, pageToken string, pageSize int) ([]domain.Task, string, error) {
	f.record("ListAllTasks")
	if err := p.RequireAdmin(); err != nil {
		return nil, "", err
	}
	return nil, "", nil
}

func (f *fakeService) ClaimTask(ctx context.Context, p domain.Principal, taskID, agentID string) (domain.Task, error) {
	f.record("ClaimTask")
	if f.claimTaskFn != nil {
		return f.claimTaskFn(p, taskID, agentID)
	}
	return domain.Task{}, nil
}

func (f *fakeService) UnclaimTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	f.record("UnclaimTask")
	if f.unclaimTaskFn != nil {
		return f.unclaimTaskFn(p, taskID)
	}
	return domain.Task{}, nil
}

func (f *fakeService) AssignTask(ctx context.Context, p domain.Principal, taskID, agentID string) (domain.Task, error) {
	f.record("AssignTask")
	if f.assignTaskFn != nil {
		return f.assignTaskFn(p, taskID, agentID)
	}
	return domain.Task{}, nil
}

func (f *fakeService) UnassignTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	f.record("UnassignTask")
	if f.unassignTaskFn != nil {
		return f.unassignTaskFn(p, taskID)
	}
	return domain.Task{}, nil
}

func (f *fakeService) NextTask(ctx context.Context, p domain.Principal, agentID string) (domain.Task, error) {
	f.record("NextTask")
	if f.nextTaskFn != nil {
		return f.nextTaskFn(p, agentID)
	}
	return domain.Task{}, domain.ErrNoTask
}

func (f *fakeService) CreateBoard(ctx context.Context, p domain.Principal, name, icon, color string, position int) (domain.Board, error) {
	f.record("CreateBoard")
	if f.createBoardFn != nil {
		return f.createBoardFn(p, name, icon, color, position)
	}
	return domain.Board{}, nil
}

func (f *fakeService) ListBoards(ctx context.Context, p domain.Principal) ([]domain.Board, error) {
	f.record("ListBoards")
	if f.listBoardsFn != nil {
		return f.listBoardsFn(p)
	}
	return nil, nil
}

func (f *fakeService) DeleteBoard(ctx context.Context, p domain.Principal, boardID string) error {
	f.record("DeleteBoard")
	if f.deleteBoardFn != nil {
		return f.deleteBoardFn(p, boardID)
	}
	return nil
}

func (f *fakeService) ListAgents(ctx context.Context, p domain.Principal) ([]domain.Agent, error) {
	f.record("ListAgents")
	if f.listAgentsFn != nil {
		return f.listAgentsFn(p)
	}
	return nil, nil
}

func (f *fakeService) TouchAgent(ctx context.Context, p domain.Principal, name, emoji string) error {
	f.record("TouchAgent")
	if f.touchAgentFn != nil {
		return f.touchAgentFn(p, name, emoji)
	}
	return nil
}

func (f *fakeService) TouchUser(ctx context.Context, p domain.Principal) {
	f.record("TouchUser")
}

// fakeAuth maps fixed tokens to identities.
type fakeAuth struct {
	identities map[string]Identity
}

func (a fakeAuth) IdentityFromAuthHeader(h string) (Identity, error) {
	token, err := bearerToken(h)
	if err != nil {
		return Identity{}, err
	}
	ident, ok := a.identities[token]
	if !ok {
		return Identity{}, errBadAuthorization
	}
	return ident, nil
}

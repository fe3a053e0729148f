package domain

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// fakeStore is an in-memory Store with ETag-checked updates, mirroring the
// conditional-write behavior of the table backend.
type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string]Task
	boards map[string]Board
	agents map[string]Agent
	users  map[string]User
	etag   int

	// updateHook runs inside UpdateTask before the ETag check, letting tests
	// interleave a competing write.
	updateHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:  map[string]Task{},
		boards: map[string]Board{},
		agents: map[string]Agent{},
		users:  map[string]User{},
	}
}

func (f *fakeStore) nextETag() string {
	f.etag++
	return strconv.Itoa(f.etag)
}

func (f *fakeStore) GetTask(ctx context.Context, ownerID, taskID string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[ownerID+"/"+taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ETag = f.nextETag()
	f.tasks[t.OwnerID+"/"+t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t Task) error {
	if f.updateHook != nil {
		f.updateHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := t.OwnerID + "/" + t.ID
	cur, ok := f.tasks[key]
	if !ok {
		return ErrNotFound
	}
	if cur.ETag != t.ETag {
		return ErrConcurrencyConflict
	}
	t.ETag = f.nextETag()
	f.tasks[key] = t
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, ownerID+"/"+taskID)
	return nil
}

func (f *fakeStore) ListTasks(ctx context.Context, filter TaskFilter, pageToken string, pageSize int) ([]Task, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Task
	for _, t := range f.tasks {
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.BoardID != "" && t.BoardID != filter.BoardID {
			continue
		}
		if filter.AssigneeID != "" && t.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !filter.IncludeArchived && t.Archived() {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if pageSize > 0 && len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, "", nil
}

func (f *fakeStore) GetBoard(ctx context.Context, ownerID, boardID string) (*Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[ownerID+"/"+boardID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) InsertBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[b.OwnerID+"/"+b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, ownerID, boardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, ownerID+"/"+boardID)
	return nil
}

func (f *fakeStore) ListBoards(ctx context.Context, ownerID string) ([]Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Board
	for _, b := range f.boards {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStore) GetAgent(ctx context.Context, ownerID, agentID string) (*Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[ownerID+"/"+agentID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeStore) UpsertAgent(ctx context.Context, a Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[a.OwnerID+"/"+a.ID] = a
	return nil
}

func (f *fakeStore) ListAgents(ctx context.Context, ownerID string) ([]Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Agent
	for _, a := range f.agents {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, u User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) Events() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingPublisher) Kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]ChangeKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

package domain

import "sort"

// Status identifies a task's position in the board pipeline.
type Status string

const (
	StatusInbox      Status = "inbox"
	StatusUpNext     Status = "up_next"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
)

var pipelineRank = map[Status]int{
	StatusInbox:      0,
	StatusUpNext:     1,
	StatusInProgress: 2,
	StatusInReview:   3,
	StatusDone:       4,
}

// Valid reports whether s is a known pipeline status.
func (s Status) Valid() bool {
	_, ok := pipelineRank[s]
	return ok
}

// Task represents a single board item.
type Task struct {
	ID          string `json:"id"`
	BoardID     string `json:"boardId"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	ClaimedBy   string `json:"claimedBy,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	ArchivedAt  int64  `json:"archivedAt,omitempty"`

	// ETag is the storage concurrency token for conditional updates.
	ETag string `json:"-"`
}

// Archived reports whether the task has been moved out of active views.
func (t Task) Archived() bool { return t.ArchivedAt != 0 }

// TaskPatch carries optional field updates for a task. CompletedAt and
// ArchivedAt are decoded so direct writes can be rejected; they are derived
// fields and never patchable.
type TaskPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *Status `json:"status"`
	AssigneeID  *string `json:"assigneeId"`
	CompletedAt *int64  `json:"completedAt"`
	ArchivedAt  *int64  `json:"archivedAt"`
}

// ApplyPatch validates and applies a partial update. Status may move in any
// direction; CompletedAt is derived from the status: entering done stamps it,
// leaving done clears it. Patches that write derived fields directly fail
// with InvalidTransitionError.
func ApplyPatch(t Task, p TaskPatch, now int64) (Task, error) {
	if p.CompletedAt != nil {
		return t, InvalidTransitionError{Field: "completedAt", Reason: "derived from status"}
	}
	if p.ArchivedAt != nil {
		return t, InvalidTransitionError{Field: "archivedAt", Reason: "set by the archive scheduler"}
	}
	if p.Name != nil {
		if *p.Name == "" {
			return t, InvalidTransitionError{Field: "name", Reason: "must not be empty"}
		}
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return t, InvalidTransitionError{Field: "status", Reason: "unknown status " + string(*p.Status)}
		}
		t.Status = *p.Status
		if t.Status == StatusDone {
			if t.CompletedAt == 0 {
				t.CompletedAt = now
			}
		} else {
			t.CompletedAt = 0
		}
	}
	t.UpdatedAt = now
	return t, nil
}

// Claim marks the task as actively worked by agentID. Claiming an idle task
// (inbox or up_next) advances it to in_progress; re-claiming by the same
// agent is a no-op. A claim held by a different agent fails with
// AlreadyClaimedError.
func Claim(t Task, agentID string, now int64) (Task, error) {
	if t.ClaimedBy != "" && t.ClaimedBy != agentID {
		return t, AlreadyClaimedError{AgentID: t.ClaimedBy}
	}
	t.ClaimedBy = agentID
	if t.Status == StatusInbox || t.Status == StatusUpNext {
		t.Status = StatusInProgress
	}
	t.UpdatedAt = now
	return t, nil
}

// Unclaim releases the claim. Status is left untouched: releasing a task does
// not revert its progress.
func Unclaim(t Task, now int64) Task {
	t.ClaimedBy = ""
	t.UpdatedAt = now
	return t
}

// Assign designates agentID as responsible for the task. Assignment is
// independent of claiming; agent existence and board eligibility are checked
// by the caller.
func Assign(t Task, agentID string, now int64) Task {
	t.AssigneeID = agentID
	t.UpdatedAt = now
	return t
}

// Unassign clears the responsible agent.
func Unassign(t Task, now int64) Task {
	t.AssigneeID = ""
	t.UpdatedAt = now
	return t
}

// NextTask selects the task an auto-mode agent should pull next: unclaimed,
// unarchived, not yet done, and either unassigned or assigned to this agent.
// Candidates on the agent's board come first, then pipeline order, then
// oldest creation time. The second return value is false when nothing
// qualifies.
func NextTask(tasks []Task, agent Agent) (Task, bool) {
	candidates := tasks[:0:0]
	for _, t := range tasks {
		if t.ClaimedBy != "" || t.Archived() || t.Status == StatusDone {
			continue
		}
		if t.AssigneeID != "" && t.AssigneeID != agent.ID {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return Task{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		am, bm := a.BoardID == agent.BoardID, b.BoardID == agent.BoardID
		if am != bm {
			return am
		}
		if pipelineRank[a.Status] != pipelineRank[b.Status] {
			return pipelineRank[a.Status] < pipelineRank[b.Status]
		}
		return a.CreatedAt < b.CreatedAt
	})
	return candidates[0], true
}

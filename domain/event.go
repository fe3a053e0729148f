package domain

// ChangeKind names the mutation a ChangeEvent describes.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeUpdated    ChangeKind = "updated"
	ChangeClaimed    ChangeKind = "claimed"
	ChangeUnclaimed  ChangeKind = "unclaimed"
	ChangeAssigned   ChangeKind = "assigned"
	ChangeUnassigned ChangeKind = "unassigned"
	ChangeCompleted  ChangeKind = "completed"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeArchived   ChangeKind = "archived"
)

// ChangeEvent describes one committed task mutation. Events are ephemeral:
// constructed after commit, delivered at most once per connected session,
// then discarded. There is no persistence or replay; disconnected clients
// reconcile by re-fetching state.
type ChangeEvent struct {
	TaskID  string     `json:"taskId"`
	BoardID string     `json:"boardId"`
	OwnerID string     `json:"ownerId"`
	Kind    ChangeKind `json:"kind"`
	Task    *Task      `json:"task,omitempty"`
	Time    int64      `json:"time"`
}

package domain

import "time"

// Board groups tasks under a single owner.
type Board struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	Position  int    `json:"position"`
	AgentID   string `json:"agentId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Agent activity thresholds derived from LastActiveAt recency.
const (
	agentActiveWindow = 2 * time.Minute
	agentIdleWindow   = 15 * time.Minute
)

// Agent is an assignable and claimable actor, distinct from a human user.
type Agent struct {
	ID           string `json:"id"`
	OwnerID      string `json:"ownerId"`
	Name         string `json:"name"`
	Emoji        string `json:"emoji,omitempty"`
	Color        string `json:"color,omitempty"`
	Slug         string `json:"slug"`
	BoardID      string `json:"boardId,omitempty"`
	LastActiveAt int64  `json:"lastActiveAt,omitempty"`
}

// Activity derives the agent's status from the recency of LastActiveAt.
func (a Agent) Activity(now int64) string {
	switch age := now - a.LastActiveAt; {
	case a.LastActiveAt == 0 || age >= int64(agentIdleWindow):
		return "offline"
	case age >= int64(agentActiveWindow):
		return "idle"
	default:
		return "active"
	}
}

// EligibleFor reports whether the agent may claim or be assigned tasks on the
// given board. An agent without a board binding floats across all of its
// owner's boards.
func (a Agent) EligibleFor(boardID string) bool {
	return a.BoardID == "" || a.BoardID == boardID
}

// User is an authenticated human account. A user with AutoMode set also acts
// as an autonomous agent, pulling work through the next-task selection.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	Admin        bool   `json:"admin,omitempty"`
	AutoMode     bool   `json:"autoMode,omitempty"`
	LastActiveAt int64  `json:"lastActiveAt,omitempty"`
}

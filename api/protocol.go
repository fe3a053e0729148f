package api

import "github.com/castleridge-io/clawdeck-sub003/domain"

const mutationMaxSize = 64 * 1024 // 64 KiB

type createTaskRequest struct {
	BoardID     string `json:"boardId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type createBoardRequest struct {
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Color    string `json:"color,omitempty"`
	Position int    `json:"position,omitempty"`
}

type agentRequest struct {
	AgentID string `json:"agentId"`
}

type taskResponse struct {
	Task           *domain.Task `json:"task,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Duplicate      bool         `json:"duplicate,omitempty"`
}

type tasksResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type agentView struct {
	domain.Agent
	Activity string `json:"activity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

type boardEntity struct {
	aztables.Entity
	Name          string `json:"Name"`
	Icon          string `json:"Icon"`
	Color         string `json:"Color"`
	Position      int    `json:"Position"`
	AgentID       string `json:"AgentId"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func (e boardEntity) toDomain() domain.Board {
	return domain.Board{
		ID:        e.RowKey,
		OwnerID:   e.PartitionKey,
		Name:      e.Name,
		Icon:      e.Icon,
		Color:     e.Color,
		Position:  e.Position,
		AgentID:   e.AgentID,
		CreatedAt: e.CreatedAt,
	}
}

type agentEntity struct {
	aztables.Entity
	Name             string `json:"Name"`
	Emoji            string `json:"Emoji"`
	Color            string `json:"Color"`
	Slug             string `json:"Slug"`
	BoardID          string `json:"BoardId"`
	LastActiveAt     int64  `json:"LastActiveAt,string"`
	LastActiveAtType string `json:"LastActiveAt@odata.type"`
}

func (e agentEntity) toDomain() domain.Agent {
	return domain.Agent{
		ID:           e.RowKey,
		OwnerID:      e.PartitionKey,
		Name:         e.Name,
		Emoji:        e.Emoji,
		Color:        e.Color,
		Slug:         e.Slug,
		BoardID:      e.BoardID,
		LastActiveAt: e.LastActiveAt,
	}
}

type userEntity struct {
	aztables.Entity
	Email            string `json:"Email"`
	Admin            bool   `json:"Admin"`
	AutoMode         bool   `json:"AutoMode"`
	LastActiveAt     int64  `json:"LastActiveAt,string"`
	LastActiveAtType string `json:"LastActiveAt@odata.type"`
}

func (e userEntity) toDomain() domain.User {
	return domain.User{
		ID:           e.RowKey,
		Email:        e.Email,
		Admin:        e.Admin,
		AutoMode:     e.AutoMode,
		LastActiveAt: e.LastActiveAt,
	}
}

// GetBoard retrieves a board entity if present.
func (s *Storage) GetBoard(ctx context.Context, ownerID, boardID string) (*domain.Board, error) {
	ent, err := s.boardTable.GetEntity(ctx, ownerID, boardID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var be boardEntity
	if err := json.Unmarshal(ent.Value, &be); err != nil {
		return nil, err
	}
	board := be.toDomain()
	return &board, nil
}

// InsertBoard creates a new board row.
func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) error {
	payload, err := json.Marshal(boardEntity{
		Entity:        aztables.Entity{PartitionKey: b.OwnerID, RowKey: b.ID},
		Name:          b.Name,
		Icon:          b.Icon,
		Color:         b.Color,
		Position:      b.Position,
		AgentID:       b.AgentID,
		CreatedAt:     b.CreatedAt,
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	if _, err := s.boardTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// DeleteBoard removes the board row.
func (s *Storage) DeleteBoard(ctx context.Context, ownerID, boardID string) error {
	if _, err := s.boardTable.DeleteEntity(ctx, ownerID, boardID, nil); err != nil {
		if isStatus(err, 404) {
			return nil
		}
		return err
	}
	return nil
}

// ListBoards retrieves all boards for the provided owner.
func (s *Storage) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + escapeOData(ownerID) + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var be boardEntity
			if err := json.Unmarshal(raw, &be); err != nil {
				return nil, err
			}
			boards = append(boards, be.toDomain())
		}
	}
	return boards, nil
}

// GetAgent retrieves an agent entity if present.
func (s *Storage) GetAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	ent, err := s.agentTable.GetEntity(ctx, ownerID, agentID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ae agentEntity
	if err := json.Unmarshal(ent.Value, &ae); err != nil {
		return nil, err
	}
	agent := ae.toDomain()
	return &agent, nil
}

// UpsertAgent creates or replaces an agent entity.
func (s *Storage) UpsertAgent(ctx context.Context, a domain.Agent) error {
	payload, err := json.Marshal(agentEntity{
		Entity:           aztables.Entity{PartitionKey: a.OwnerID, RowKey: a.ID},
		Name:             a.Name,
		Emoji:            a.Emoji,
		Color:            a.Color,
		Slug:             a.Slug,
		BoardID:          a.BoardID,
		LastActiveAt:     a.LastActiveAt,
		LastActiveAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	_, err = s.agentTable.UpsertEntity(ctx, payload, nil)
	return err
}

// ListAgents retrieves all agents for the provided owner.
func (s *Storage) ListAgents(ctx context.Context, ownerID string) ([]domain.Agent, error) {
	filter := "PartitionKey eq '" + escapeOData(ownerID) + "'"
	pager := s.agentTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	agents := []domain.Agent{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ae agentEntity
			if err := json.Unmarshal(raw, &ae); err != nil {
				return nil, err
			}
			agents = append(agents, ae.toDomain())
		}
	}
	return agents, nil
}

// GetUser retrieves a user entity if present.
func (s *Storage) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ue userEntity
	if err := json.Unmarshal(ent.Value, &ue); err != nil {
		return nil, err
	}
	user := ue.toDomain()
	return &user, nil
}

// UpsertUser creates or replaces a user entity.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) error {
	payload, err := json.Marshal(userEntity{
		Entity:           aztables.Entity{PartitionKey: u.ID, RowKey: u.ID},
		Email:            u.Email,
		Admin:            u.Admin,
		AutoMode:         u.AutoMode,
		LastActiveAt:     u.LastActiveAt,
		LastActiveAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	_, err = s.userTable.UpsertEntity(ctx, payload, nil)
	return err
}

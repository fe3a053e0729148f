package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

const edmInt64 = "Edm.Int64"

// InvalidContinuationTokenError is returned when a supplied pagination token
// is malformed or expired.
type InvalidContinuationTokenError struct {
	Token string
}

func (e InvalidContinuationTokenError) Error() string {
	return "invalid continuation token"
}

// InvalidContinuationToken marks the error for the API layer's 400 mapping.
func (e InvalidContinuationTokenError) InvalidContinuationToken() {}

// Storage provides access to the task, board, agent and user tables.
type Storage struct {
	taskTable  *aztables.Client
	boardTable *aztables.Client
	agentTable *aztables.Client
	userTable  *aztables.Client

	defaultPageSize int
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, boardsTable, agentsTable, usersTable string, defaultPageSize int) (*Storage, error) {
	clientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &clientOptions)
	if err != nil {
		return nil, err
	}
	if defaultPageSize <= 0 {
		defaultPageSize = 30
	}
	return &Storage{
		taskTable:       svc.NewClient(tasksTable),
		boardTable:      svc.NewClient(boardsTable),
		agentTable:      svc.NewClient(agentsTable),
		userTable:       svc.NewClient(usersTable),
		defaultPageSize: defaultPageSize,
	}, nil
}

// taskEntity is the table representation of a task. Timestamps are unix
// nanoseconds carried as Edm.Int64 so they can be range-filtered; zero means
// unset. Every field is written on each update so boolean-style absence never
// leaks into filters.
type taskEntity struct {
	aztables.Entity
	ETag            string `json:"odata.etag,omitempty"`
	BoardID         string `json:"BoardId"`
	Name            string `json:"Name"`
	Description     string `json:"Description"`
	Status          string `json:"Status"`
	AssigneeID      string `json:"AssigneeId"`
	ClaimedBy       string `json:"ClaimedBy"`
	CreatedAt       int64  `json:"CreatedAt,string"`
	CreatedAtType   string `json:"CreatedAt@odata.type"`
	UpdatedAt       int64  `json:"UpdatedAt,string"`
	UpdatedAtType   string `json:"UpdatedAt@odata.type"`
	CompletedAt     int64  `json:"CompletedAt,string"`
	CompletedAtType string `json:"CompletedAt@odata.type"`
	ArchivedAt      int64  `json:"ArchivedAt,string"`
	ArchivedAtType  string `json:"ArchivedAt@odata.type"`
}

func taskToEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:          aztables.Entity{PartitionKey: t.OwnerID, RowKey: t.ID},
		BoardID:         t.BoardID,
		Name:            t.Name,
		Description:     t.Description,
		Status:          string(t.Status),
		AssigneeID:      t.AssigneeID,
		ClaimedBy:       t.ClaimedBy,
		CreatedAt:       t.CreatedAt,
		CreatedAtType:   edmInt64,
		UpdatedAt:       t.UpdatedAt,
		UpdatedAtType:   edmInt64,
		CompletedAt:     t.CompletedAt,
		CompletedAtType: edmInt64,
		ArchivedAt:      t.ArchivedAt,
		ArchivedAtType:  edmInt64,
	}
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		BoardID:     e.BoardID,
		OwnerID:     e.PartitionKey,
		Name:        e.Name,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		AssigneeID:  e.AssigneeID,
		ClaimedBy:   e.ClaimedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		CompletedAt: e.CompletedAt,
		ArchivedAt:  e.ArchivedAt,
		ETag:        e.ETag,
	}
}

// GetTask retrieves a task entity if present.
func (s *Storage) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, ownerID, taskID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var te taskEntity
	if err := json.Unmarshal(ent.Value, &te); err != nil {
		return nil, err
	}
	task := te.toDomain()
	return &task, nil
}

// InsertTask creates a new task row. An existing row with the same key is a
// concurrency conflict.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// UpdateTask replaces the task row conditional on the ETag the task was
// loaded with. A mismatch means a concurrent writer got there first.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	if t.ETag == "" {
		return fmt.Errorf("task %s has no etag", t.ID)
	}
	payload, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	etag := azcore.ETag(t.ETag)
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		if isStatus(err, 412) {
			return domain.ErrConcurrencyConflict
		}
		if isStatus(err, 404) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteTask removes the task row. Deleting an absent row is not an error.
func (s *Storage) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, ownerID, taskID, nil); err != nil {
		if isStatus(err, 404) {
			return nil
		}
		return err
	}
	return nil
}

// ListTasks pages through tasks matching the filter. The returned token
// resumes the listing; an empty token means the listing is complete.
func (s *Storage) ListTasks(ctx context.Context, f domain.TaskFilter, pageToken string, pageSize int) ([]domain.Task, string, error) {
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	top := int32(pageSize)
	opts := &aztables.ListEntitiesOptions{Top: &top}
	if filter := buildTaskFilter(f); filter != "" {
		opts.Filter = &filter
	}
	if pageToken != "" {
		pk, rk, err := decodeContinuationToken(pageToken)
		if err != nil {
			return nil, "", err
		}
		opts.NextPartitionKey = &pk
		opts.NextRowKey = &rk
	}

	pager := s.taskTable.NewListEntitiesPager(opts)
	if !pager.More() {
		return []domain.Task{}, "", nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, "", err
	}
	tasks := make([]domain.Task, 0, len(resp.Entities))
	for _, raw := range resp.Entities {
		var te taskEntity
		if err := json.Unmarshal(raw, &te); err != nil {
			return nil, "", err
		}
		tasks = append(tasks, te.toDomain())
	}
	next := ""
	if resp.NextPartitionKey != nil && resp.NextRowKey != nil {
		next = encodeContinuationToken(*resp.NextPartitionKey, *resp.NextRowKey)
	}
	return tasks, next, nil
}

// ListArchivable returns done tasks whose completion stamp is older than the
// cutoff and that have not been archived yet, bounded by limit.
func (s *Storage) ListArchivable(ctx context.Context, completedBefore int64, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	top := int32(limit)
	filter := fmt.Sprintf("Status eq 'done' and CompletedAt gt 0L and CompletedAt lt %dL and ArchivedAt eq 0L", completedBefore)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	if !pager.More() {
		return nil, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(resp.Entities))
	for _, raw := range resp.Entities {
		var te taskEntity
		if err := json.Unmarshal(raw, &te); err != nil {
			return nil, err
		}
		tasks = append(tasks, te.toDomain())
	}
	return tasks, nil
}

// buildTaskFilter renders a TaskFilter as an OData filter expression.
func buildTaskFilter(f domain.TaskFilter) string {
	var parts []string
	if f.OwnerID != "" {
		parts = append(parts, "PartitionKey eq '"+escapeOData(f.OwnerID)+"'")
	}
	if f.BoardID != "" {
		parts = append(parts, "BoardId eq '"+escapeOData(f.BoardID)+"'")
	}
	if f.AssigneeID != "" {
		parts = append(parts, "AssigneeId eq '"+escapeOData(f.AssigneeID)+"'")
	}
	if f.Status != "" {
		parts = append(parts, "Status eq '"+escapeOData(string(f.Status))+"'")
	}
	if !f.IncludeArchived {
		parts = append(parts, "ArchivedAt eq 0L")
	}
	return strings.Join(parts, " and ")
}

// escapeOData doubles single quotes per the OData string literal rules.
func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

type continuationToken struct {
	PK string `json:"pk"`
	RK string `json:"rk"`
}

func encodeContinuationToken(pk, rk string) string {
	data, _ := json.Marshal(continuationToken{PK: pk, RK: rk})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeContinuationToken(token string) (string, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", InvalidContinuationTokenError{Token: token}
	}
	var ct continuationToken
	if err := json.Unmarshal(data, &ct); err != nil || ct.PK == "" {
		return "", "", InvalidContinuationTokenError{Token: token}
	}
	return ct.PK, ct.RK, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

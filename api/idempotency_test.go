package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/castleridge-io/clawdeck-sub003/domain"
	"github.com/castleridge-io/clawdeck-sub003/notify"
)

func newDedupedServer(t *testing.T, svc Service) (*echo.Echo, *RedisDeduper) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	deduper := NewRedisDeduper(client, time.Hour)

	auth := fakeAuth{identities: map[string]Identity{
		userToken: {Kind: domain.PrincipalHuman, Subject: "u1", OwnerID: "u1"},
	}}
	e := echo.New()
	e.Logger.SetOutput(io.Discard)
	Register(e, svc, auth, deduper, notify.NewHub(quietLogger()), quietLogger())
	return e, deduper
}

func TestDuplicateMutationNotReapplied(t *testing.T) {
	svc := &fakeService{
		createTaskFn: func(p domain.Principal, boardID, name, description string) (domain.Task, error) {
			return domain.Task{ID: "t1", BoardID: boardID, Name: name}, nil
		},
	}
	e, _ := newDedupedServer(t, svc)
	headers := map[string]string{idempotencyKeyHeader: "key-1"}

	rec := doRequest(e, http.MethodPost, "/api/tasks", userToken, `{"boardId":"b1","name":"once"}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPost, "/api/tasks", userToken, `{"boardId":"b1","name":"once"}`, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Duplicate || resp.IdempotencyKey != "key-1" {
		t.Fatalf("expected duplicate marker, got %#v", resp)
	}
	if svc.callCount("CreateTask") != 1 {
		t.Fatalf("mutation applied %d times, want 1", svc.callCount("CreateTask"))
	}
}

func TestFailedMutationReleasesKey(t *testing.T) {
	fail := true
	svc := &fakeService{
		claimTaskFn: func(p domain.Principal, taskID, agentID string) (domain.Task, error) {
			if fail {
				return domain.Task{}, errors.New("storage down")
			}
			return domain.Task{ID: taskID, ClaimedBy: "u1"}, nil
		},
	}
	e, deduper := newDedupedServer(t, svc)
	headers := map[string]string{idempotencyKeyHeader: "key-2"}

	rec := doRequest(e, http.MethodPost, "/api/tasks/t1/claim", userToken, "", headers)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed mutation status = %d, want 503", rec.Code)
	}
	fresh, err := deduper.Add(context.Background(), "u1", "key-2")
	if err != nil {
		t.Fatalf("deduper add: %v", err)
	}
	if !fresh {
		t.Fatal("key not released after failed mutation")
	}
	if err := deduper.Remove(context.Background(), "u1", "key-2"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	fail = false
	rec = doRequest(e, http.MethodPost, "/api/tasks/t1/claim", userToken, "", headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rec.Code)
	}
	if svc.callCount("ClaimTask") != 2 {
		t.Fatalf("mutation applied %d times, want 2", svc.callCount("ClaimTask"))
	}
}

func TestKeysScopedPerOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	deduper := NewRedisDeduper(client, time.Hour)

	ctx := context.Background()
	if fresh, _ := deduper.Add(ctx, "u1", "shared"); !fresh {
		t.Fatal("first add should be fresh")
	}
	if fresh, _ := deduper.Add(ctx, "u2", "shared"); !fresh {
		t.Fatal("same key under another owner should be fresh")
	}
	if fresh, _ := deduper.Add(ctx, "u1", "shared"); fresh {
		t.Fatal("replay under the same owner should be refused")
	}
}

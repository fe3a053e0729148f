package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

func TestStreamDeliversChangeEvents(t *testing.T) {
	e, hub := newTestServer(&fakeService{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+userToken)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		e.ServeHTTP(rec, req)
		close(done)
	}()

	// Wait for the handler to register its session before broadcasting.
	deadline := time.Now().Add(time.Second)
	for hub.SessionCount("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(domain.ChangeEvent{TaskID: "t1", OwnerID: "u1", Kind: domain.ChangeClaimed})
	// Give the handler a moment to flush before tearing the request down.
	deadline = time.Now().Add(time.Second)
	for !strings.Contains(rec.Body.String(), "t1") {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("expected SSE framing, got %q", body)
	}
	if !strings.Contains(body, `"taskId":"t1"`) || !strings.Contains(body, `"kind":"claimed"`) {
		t.Fatalf("event not delivered: %q", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestStreamAdminReceivesAllScopes(t *testing.T) {
	svc := &fakeService{
		resolvePrincipalFn: func(kind domain.PrincipalKind, subject, ownerID string) (domain.Principal, error) {
			return domain.Principal{Kind: kind, ID: subject, OwnerID: subject, Admin: subject == "root"}, nil
		},
	}
	e, hub := newTestServer(svc)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+adminToken)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		e.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for hub.SessionCount("root") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// An event in a foreign scope still reaches the admin session.
	hub.Broadcast(domain.ChangeEvent{TaskID: "t9", OwnerID: "u1", Kind: domain.ChangeCreated})
	deadline = time.Now().Add(time.Second)
	for !strings.Contains(rec.Body.String(), "t9") {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, `"taskId":"t9"`) || !strings.Contains(body, `"ownerId":"u1"`) {
		t.Fatalf("foreign-scope event not delivered: %q", body)
	}
}

func TestStreamRequiresAuth(t *testing.T) {
	e, _ := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

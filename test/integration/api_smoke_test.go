package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/app/apiapp"
	"github.com/ivankudzin/modqueue/internal/app/platform"
	"github.com/ivankudzin/modqueue/internal/app/workerapp"
	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	authsvc "github.com/ivankudzin/modqueue/internal/services/auth"
	"github.com/ivankudzin/modqueue/internal/transport/http/dto"
)

type stack struct {
	platform *platform.Platform
	server   *httptest.Server
	tokens   *authsvc.JWTManager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.Store.Driver = platform.DriverMemory
	cfg.Worker.PollInterval = 10 * time.Millisecond

	p, err := platform.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("create platform: %v", err)
	}
	app, err := apiapp.New(p)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)

	return &stack{
		platform: p,
		server:   ts,
		tokens:   authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL),
	}
}

func (s *stack) request(t *testing.T, method, path, role string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if role != "" {
		token, _, err := s.tokens.GenerateAccessToken("tester", role)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	s := newStack(t)

	resp := s.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusOK)
	}

	var payload dto.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRoutesEnforceRoles(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/v1/overview", want: http.StatusUnauthorized},
		{name: "viewer overview", method: http.MethodGet, path: "/v1/overview", role: authsvc.RoleViewer, want: http.StatusForbidden},
		{name: "moderator overview", method: http.MethodGet, path: "/v1/overview", role: authsvc.RoleModerator, want: http.StatusOK},
		{name: "moderator remove", method: http.MethodDelete, path: "/v1/queues/items/" + uuid.NewString(), role: authsvc.RoleModerator, want: http.StatusForbidden},
		{name: "admin remove", method: http.MethodDelete, path: "/v1/queues/items/" + uuid.NewString(), role: authsvc.RoleAdmin, want: http.StatusNoContent},
		{name: "viewer enqueue", method: http.MethodPost, path: "/v1/queues/post_moderation/items", role: authsvc.RoleViewer, want: http.StatusForbidden},
		{name: "unknown route", method: http.MethodGet, path: "/v2/nothing", want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.request(t, tc.method, tc.path, tc.role, nil)
			if resp.StatusCode != tc.want {
				t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestEnqueueModerateAndReportStatus(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers, err := workerapp.New(s.platform)
	if err != nil {
		t.Fatalf("create workers: %v", err)
	}
	go func() { _ = s.platform.RunPublisher(ctx) }()

	content, err := s.platform.Contents.Create(ctx, model.Content{
		Kind:    enums.ContentKindPrivateMessage,
		OwnerID: uuid.New(),
		Body:    "ok",
	})
	if err != nil {
		t.Fatalf("create content: %v", err)
	}

	resp := s.request(t, http.MethodPost, "/v1/queues/private_message/items", authsvc.RoleService, dto.EnqueueRequest{ContentID: content.ID.String()})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue: got %d", resp.StatusCode)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = workers.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		c, _ := s.platform.Contents.Get(ctx, content.ID)
		if c.Status == enums.ContentStatusRejected {
			if c.Feedback == nil || *c.Feedback == "" {
				t.Fatalf("rejection must carry feedback")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("short message was not rejected in time, status %s", c.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	resp = s.request(t, http.MethodGet, "/v1/status/"+content.ID.String(), authsvc.RoleViewer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var st dto.QueueStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != string(enums.ItemStatusCompleted) {
		t.Fatalf("unexpected item status: %s", st.Status)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"resonate/api/internal/store"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})
	return NewHTTPServer(svc, "*")
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_RedisDown(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status not_ready, got %v", status)
	}
}

func TestCreateRoomEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	body := strings.NewReader(`{"name":"Friday vibes","createdBy":"alex"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var room store.Room
	if err := json.Unmarshal(rr.Body.Bytes(), &room); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if room.Name != "Friday vibes" {
		t.Errorf("expected room name in response, got %q", room.Name)
	}
}

func TestCreateRoomEndpoint_MissingName(t *testing.T) {
	server := newTestServer(&fakeStore{})

	body := strings.NewReader(`{"createdBy":"alex"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if code := response["code"]; code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", code)
	}
}

func TestGetRoomEndpoint_NotFound(t *testing.T) {
	fs := &fakeStore{
		getRoomFn: func(context.Context, string) (store.Room, error) {
			return store.Room{}, store.ErrNotFound
		},
	}
	server := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAdvanceEndpoint(t *testing.T) {
	fs := &fakeStore{
		advanceFn: func(_ context.Context, _ string, finishedURL string) (store.PlayerState, bool, error) {
			if finishedURL != "https://youtu.be/done" {
				t.Errorf("unexpected finished url %q", finishedURL)
			}
			return store.PlayerState{CurrentItem: &store.Item{URL: "https://youtu.be/next", Title: "Next"}}, true, nil
		},
	}
	server := newTestServer(fs)

	body := strings.NewReader(`{"finishedUrl":"https://youtu.be/done"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/advance", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if advanced := response["advanced"]; advanced != true {
		t.Errorf("expected advanced=true, got %v", advanced)
	}
	if response["queue"] == nil || response["history"] == nil {
		t.Error("expected queue and history arrays in payload")
	}
}

func TestQueueEndpoint_RejectsBadURL(t *testing.T) {
	server := newTestServer(&fakeStore{})

	body := strings.NewReader(`{"url":"https://example.com/x","title":"Track"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/queue", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/resolve?url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3Dabc123", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["audioUrl"] != "https://stream.example/audio" {
		t.Errorf("unexpected audioUrl %v", response["audioUrl"])
	}
}

func TestResolveResetEndpoint(t *testing.T) {
	fr := &fakeResolver{resetFn: func() int { return 3 }}
	svc := newTestService(&fakeStore{}, &fakeUsers{}, fr, &fakeSearch{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/resolve/reset", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if cleared := response["cleared"]; cleared != float64(3) {
		t.Errorf("expected cleared=3, got %v", cleared)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodDelete, "/api/rooms", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestCORSHeadersSet(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", origin)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

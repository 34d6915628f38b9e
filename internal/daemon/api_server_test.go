package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meetingflow/internal/entities"
	"meetingflow/internal/events"
	"meetingflow/internal/meeting"
	"meetingflow/internal/state"
	"meetingflow/internal/tasks"
	"meetingflow/internal/testsupport"
)

type apiFixture struct {
	daemon *Daemon
	server *httptest.Server
	hub    *events.Hub
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	st := testsupport.MustOpenStore(t, cfg)
	hub := events.NewHub(0)
	d, err := New(cfg, st, &recordingProcessor{seen: make(chan meeting.Recording, 4)}, Options{Hub: hub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(d.api.routes(token))
	t.Cleanup(server.Close)
	return &apiFixture{daemon: d, server: server, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t, "secret")

	if resp := f.do(t, http.MethodGet, "/api/status", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/status", "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, "/api/status", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	status := decode[Status](t, resp)
	if status.PID == 0 || status.DatabasePath == "" {
		t.Fatalf("incomplete status payload: %+v", status)
	}
	if resp := f.do(t, http.MethodGet, "/api/status?token=secret", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected query token to be accepted, got %d", resp.StatusCode)
	}
}

func TestAPIRecordings(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	testsupport.Discover(t, f.daemon.tracker, "/in/a.m4a", "fp-a")
	testsupport.Discover(t, f.daemon.tracker, "/in/b.m4a", "fp-b")
	if _, err := f.daemon.tracker.MarkFailed(ctx, "fp-b", state.StageSegmented, context.DeadlineExceeded, false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	list := decode[map[string][]state.ProcessingState](t, f.do(t, http.MethodGet, "/api/recordings", "", nil))
	if len(list["recordings"]) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(list["recordings"]))
	}

	resp := f.do(t, http.MethodGet, "/api/recordings/fp-a", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[state.ProcessingState](t, resp); got.Path != "/in/a.m4a" {
		t.Fatalf("unexpected recording %+v", got)
	}
	if resp := f.do(t, http.MethodGet, "/api/recordings/nope", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/recordings?stage=bogus", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodPost, "/api/recordings/fp-a/retry", "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 retrying a healthy recording, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/recordings/fp-b/retry", "", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	st, err := f.daemon.tracker.Get(ctx, "fp-b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Stage == state.StageFailed {
		t.Fatal("expected retry to clear the failed stage")
	}
}

func TestAPITaskStatusTransitions(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	task := tasks.Task{
		ID:                tasks.NewID("fp", 0),
		Title:             "Send the proposal",
		Status:            tasks.StatusNew,
		Priority:          tasks.PriorityMedium,
		Category:          tasks.CategoryProcess,
		SourceFingerprint: "fp",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := f.daemon.store.InsertTasks(ctx, []tasks.Task{task}); err != nil {
		t.Fatalf("InsertTasks: %v", err)
	}

	list := decode[map[string][]tasks.Task](t, f.do(t, http.MethodGet, "/api/tasks?status=new", "", nil))
	if len(list["tasks"]) != 1 {
		t.Fatalf("expected 1 task, got %d", len(list["tasks"]))
	}
	if resp := f.do(t, http.MethodGet, "/api/tasks?status=sideways", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", resp.StatusCode)
	}

	resp := f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, "", statusRequest{Status: "ready"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[tasks.Task](t, resp); got.Status != tasks.StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}

	if resp := f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, "", statusRequest{Status: "done"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an illegal edge, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, "", statusRequest{Status: "sideways"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPatch, "/api/tasks/missing", "", statusRequest{Status: "ready"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPIEntityOverride(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	rec := entities.Record{
		ID:             entities.NewID(entities.TypeCompany, "acme corp"),
		Type:           entities.TypeCompany,
		CanonicalName:  "Acme Corp",
		NormalizedName: "acme corp",
		Relationship:   entities.RelationUnknown,
		FirstSeen:      now,
		LastSeen:       now,
	}
	if err := f.daemon.store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list := decode[map[string][]entities.Record](t, f.do(t, http.MethodGet, "/api/entities?type=company", "", nil))
	if len(list["entities"]) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(list["entities"]))
	}

	resp := f.do(t, http.MethodPut, "/api/entities/"+rec.ID+"/relationship", "", relationshipRequest{Relationship: "Client"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[entities.Record](t, resp)
	if got.Relationship != entities.RelationClient || !got.RelationshipPinned {
		t.Fatalf("override not applied: %+v", got)
	}

	if resp := f.do(t, http.MethodPut, "/api/entities/"+rec.ID+"/relationship", "", relationshipRequest{Relationship: "in_use"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a technology status on a company, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPut, "/api/entities/missing/relationship", "", relationshipRequest{Relationship: "client"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPIEventStreamReplaysAndStreams(t *testing.T) {
	f := newAPIFixture(t, "")
	f.hub.Publish(events.Event{Type: events.TypeDiscovered, Fingerprint: "fp-1"})
	f.hub.Publish(events.Event{Type: events.TypeDiscovered, Fingerprint: "fp-2"})

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events?since=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var replayed events.Event
	if err := conn.ReadJSON(&replayed); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if replayed.Seq != 2 || replayed.Fingerprint != "fp-2" {
		t.Fatalf("unexpected replayed event %+v", replayed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	f.hub.Publish(events.Event{Type: events.TypeCompleted, Fingerprint: "fp-2"})
	var live events.Event
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Type != events.TypeCompleted || live.Seq != 3 {
		t.Fatalf("unexpected live event %+v", live)
	}
}

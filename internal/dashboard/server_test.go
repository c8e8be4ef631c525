package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

type fakeService struct {
	mu       sync.Mutex
	issues   []*schema.SyncIssue
	settings schema.SyncSettings
	running  bool
	runErr   error
	result   *schema.SyncRunResult
	resolved map[string]schema.Resolution
}

func newFakeService() *fakeService {
	return &fakeService{
		settings: schema.DefaultSettings(),
		result:   &schema.SyncRunResult{ID: "run-1", RunType: schema.RunManual},
		resolved: make(map[string]schema.Resolution),
	}
}

func (f *fakeService) RunSync(ctx context.Context, opts engine.Options) (*schema.SyncRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeService) Issues() []*schema.SyncIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issues
}

func (f *fakeService) UnresolvedCount() int { return len(f.Issues()) }

func (f *fakeService) LastRun() *schema.SyncRunResult { return f.result }
func (f *fakeService) IsRunning() bool                { return f.running }
func (f *fakeService) CurrentLayer() int              { return 0 }

func (f *fakeService) History() []*schema.SyncRunResult {
	return []*schema.SyncRunResult{f.result}
}

func (f *fakeService) Settings() schema.SyncSettings { return f.settings }

func (f *fakeService) SetSettings(s schema.SyncSettings) {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
}

func (f *fakeService) ResolveIssue(ctx context.Context, id string, resolution schema.Resolution, newLinkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, issue := range f.issues {
		if issue.ID == id {
			f.resolved[id] = resolution
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeService) DismissIssue(ctx context.Context, id string) error {
	return f.ResolveIssue(ctx, id, schema.ResolutionIgnored, "")
}

func startTestServer(t *testing.T, service SyncService, config *Config) *Server {
	t.Helper()
	if config == nil {
		config = &Config{}
	}
	config.Port = 0
	config.Logger = log.New(io.Discard, "", 0)

	s := NewServer(service, config)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// hostPort rewrites the wildcard listen address to loopback for dialing.
func hostPort(s *Server) string {
	_, port, _ := net.SplitHostPort(s.Addr())
	return "127.0.0.1:" + port
}

func baseURL(s *Server) string {
	return "http://" + hostPort(s)
}

func TestIssuesEndpoint(t *testing.T) {
	service := newFakeService()
	service.issues = []*schema.SyncIssue{
		{ID: "iss-1", Type: schema.IssueOrphanedLink, Severity: schema.SeverityCritical},
	}
	s := startTestServer(t, service, nil)

	resp, err := http.Get(baseURL(s) + "/api/issues")
	if err != nil {
		t.Fatalf("GET /api/issues failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Issues []*schema.SyncIssue `json:"issues"`
		Count  int                 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 || len(body.Issues) != 1 || body.Issues[0].ID != "iss-1" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestSyncEndpoint(t *testing.T) {
	service := newFakeService()
	s := startTestServer(t, service, nil)

	resp, err := http.Post(baseURL(s)+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result schema.SyncRunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ID != "run-1" {
		t.Errorf("run ID = %s, want run-1", result.ID)
	}
}

func TestSyncConflictWhileRunning(t *testing.T) {
	service := newFakeService()
	service.runErr = engine.ErrSyncInProgress
	s := startTestServer(t, service, nil)

	resp, err := http.Post(baseURL(s)+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSyncFailureKeepsIssuesServing(t *testing.T) {
	service := newFakeService()
	service.issues = []*schema.SyncIssue{{ID: "iss-1"}}
	service.runErr = errors.New("disk full")
	s := startTestServer(t, service, nil)

	resp, err := http.Post(baseURL(s)+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("sync status = %d, want 500", resp.StatusCode)
	}

	// The issue list still serves the last snapshot.
	resp, err = http.Get(baseURL(s) + "/api/issues")
	if err != nil {
		t.Fatalf("GET /api/issues failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("issues status = %d, want 200", resp.StatusCode)
	}
}

func TestResolveEndpoint(t *testing.T) {
	service := newFakeService()
	service.issues = []*schema.SyncIssue{{ID: "iss-1"}}
	s := startTestServer(t, service, nil)

	body := bytes.NewBufferString(`{"resolution": "linked"}`)
	resp, err := http.Post(baseURL(s)+"/api/issues/iss-1/resolve", "application/json", body)
	if err != nil {
		t.Fatalf("POST resolve failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if service.resolved["iss-1"] != schema.ResolutionLinked {
		t.Errorf("resolution = %s, want linked", service.resolved["iss-1"])
	}
}

func TestResolveUnknownIssue(t *testing.T) {
	service := newFakeService()
	s := startTestServer(t, service, nil)

	body := bytes.NewBufferString(`{"resolution": "ignored"}`)
	resp, err := http.Post(baseURL(s)+"/api/issues/nope/resolve", "application/json", body)
	if err != nil {
		t.Fatalf("POST resolve failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResolveInvalidResolution(t *testing.T) {
	service := newFakeService()
	service.issues = []*schema.SyncIssue{{ID: "iss-1"}}
	s := startTestServer(t, service, nil)

	body := bytes.NewBufferString(`{"resolution": "maybe"}`)
	resp, err := http.Post(baseURL(s)+"/api/issues/iss-1/resolve", "application/json", body)
	if err != nil {
		t.Fatalf("POST resolve failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDismissEndpoint(t *testing.T) {
	service := newFakeService()
	service.issues = []*schema.SyncIssue{{ID: "iss-1"}}
	s := startTestServer(t, service, nil)

	resp, err := http.Post(baseURL(s)+"/api/issues/iss-1/dismiss", "application/json", nil)
	if err != nil {
		t.Fatalf("POST dismiss failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if service.resolved["iss-1"] != schema.ResolutionIgnored {
		t.Errorf("resolution = %s, want ignored", service.resolved["iss-1"])
	}
}

func TestPutSettings(t *testing.T) {
	service := newFakeService()
	var saved schema.SyncSettings
	config := &Config{
		SaveSettings: func(s schema.SyncSettings) error {
			saved = s
			return nil
		},
	}
	s := startTestServer(t, service, config)

	settings := schema.DefaultSettings()
	settings.Layer3Enabled = false
	payload, _ := json.Marshal(settings)

	req, err := http.NewRequest(http.MethodPut, baseURL(s)+"/api/settings", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/settings failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if service.Settings().Layer3Enabled {
		t.Error("settings not applied to service")
	}
	if saved.Layer3Enabled {
		t.Error("settings not persisted")
	}
}

func TestPutSettingsRejectsInvalid(t *testing.T) {
	service := newFakeService()
	s := startTestServer(t, service, nil)

	settings := schema.DefaultSettings()
	settings.RealtimeDebounce = time.Millisecond // below the floor
	payload, _ := json.Marshal(settings)

	req, err := http.NewRequest(http.MethodPut, baseURL(s)+"/api/settings", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/settings failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// dialWS connects a websocket client and waits for it to register.
func dialWS(t *testing.T, ctx context.Context, s *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", hostPort(s)), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() == 0 {
		t.Fatal("client never registered")
	}
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestWebSocketBroadcast(t *testing.T) {
	service := newFakeService()
	s := startTestServer(t, service, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, s)

	s.Broadcast(MessageTypeRunComplete, map[string]string{"run_id": "run-1"})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeRunComplete {
		t.Errorf("message type = %s, want run_complete", msg.Type)
	}
}

func TestSyncConflictEmitsNoRunEvents(t *testing.T) {
	service := newFakeService()
	service.running = true
	service.runErr = engine.ErrSyncInProgress
	s := startTestServer(t, service, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, s)

	resp, err := http.Post(baseURL(s)+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	// A rejected run must not announce itself. The marker broadcast below
	// has to be the first message the client sees.
	s.Broadcast(MessageTypeSettingsUpdated, service.Settings())

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSettingsUpdated {
		t.Errorf("first message = %s, want settings_updated", msg.Type)
	}
}

func TestSyncFailureBroadcastsTerminalEvent(t *testing.T) {
	service := newFakeService()
	service.runErr = errors.New("disk full")
	s := startTestServer(t, service, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, s)

	resp, err := http.Post(baseURL(s)+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	first := readMessage(t, ctx, conn)
	if first.Type != MessageTypeRunStarted {
		t.Fatalf("first message = %s, want run_started", first.Type)
	}
	second := readMessage(t, ctx, conn)
	if second.Type != MessageTypeRunFailed {
		t.Fatalf("second message = %s, want run_failed", second.Type)
	}

	var payload map[string]string
	if err := json.Unmarshal(second.Data, &payload); err != nil {
		t.Fatalf("failed to unmarshal failure payload: %v", err)
	}
	if payload["error"] != "disk full" {
		t.Errorf("failure error = %q, want %q", payload["error"], "disk full")
	}
}

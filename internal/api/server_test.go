package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/types"
	"github.com/registry-indexer/internal/worker"
)

// Mock stores for handler tests

type mockPackageStore struct {
	packages []*models.Package
	detail   *models.PackageWithVersions
	stats    *models.Stats
	err      error
}

func (m *mockPackageStore) SearchPackages(ctx context.Context, query string, limit, offset int) ([]*models.Package, error) {
	return m.packages, m.err
}

func (m *mockPackageStore) ListPackages(ctx context.Context, limit, offset int) ([]*models.Package, error) {
	return m.packages, m.err
}

func (m *mockPackageStore) GetPackageWithVersions(ctx context.Context, name string) (*models.PackageWithVersions, error) {
	return m.detail, m.err
}

func (m *mockPackageStore) Stats(ctx context.Context) (*models.Stats, error) {
	return m.stats, m.err
}

type mockEventStore struct {
	events    []*models.Event
	inserted  *models.Event
	insertOK  bool
	insertErr error
}

func (m *mockEventStore) InsertEvent(ctx context.Context, event *models.Event) (bool, error) {
	m.inserted = event
	return m.insertOK, m.insertErr
}

func (m *mockEventStore) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	return m.events, nil
}

func (m *mockEventStore) PackageEvents(ctx context.Context, packageName string, limit, offset int) ([]*models.Event, error) {
	return m.events, nil
}

type mockStateStore struct {
	state *models.IndexerState
	err   error
}

func (m *mockStateStore) GetState(ctx context.Context) (*models.IndexerState, error) {
	return m.state, m.err
}

type mockIngester struct {
	calls int
	err   error
}

func (m *mockIngester) Ingest(ctx context.Context, event *models.Event, rawLog string) error {
	m.calls++
	return m.err
}

type mockWorkerStatus struct {
	status *worker.Status
}

func (m *mockWorkerStatus) GetStatus() *worker.Status {
	return m.status
}

type testDeps struct {
	packages *mockPackageStore
	events   *mockEventStore
	state    *mockStateStore
	ingester *mockIngester
}

func createTestServer() (*Server, *testDeps) {
	config := &ServerConfig{
		Host:         "localhost",
		Port:         "8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	deps := &testDeps{
		packages: &mockPackageStore{},
		events:   &mockEventStore{insertOK: true},
		state: &mockStateStore{
			state: &models.IndexerState{
				LastProcessedSlot: 1234,
				Status:            types.StatusRunning,
			},
		},
		ingester: &mockIngester{},
	}

	workerStatus := &mockWorkerStatus{
		status: &worker.Status{
			Running:           true,
			Status:            types.StatusRunning,
			LastProcessedSlot: 1234,
		},
	}

	server := NewServer(config, deps.packages, deps.events, deps.state, deps.ingester, workerStatus, nil)
	return server, deps
}

// doRequest serves a request through the full middleware chain and decodes
// the response envelope.
func doRequest(t *testing.T, server *Server, req *http.Request) (*httptest.ResponseRecorder, *Response) {
	t.Helper()

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response envelope: %v (body: %s)", err, w.Body.String())
	}
	return w, &resp
}

func TestHealth(t *testing.T) {
	server, _ := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w, resp := doRequest(t, server, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !resp.Success {
		t.Error("Expected success envelope")
	}
}

package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapreport/internal/testutil"
	"github.com/leapstack-labs/leapreport/internal/ui/features"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

func setupTestServer(t *testing.T) (*httptest.Server, *features.TestFixture) {
	t.Helper()

	fixture := features.SetupTestFixture(t)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, Config{
		Source:  fixture.Pipeline,
		Channel: fixture.Channel,
		Logger:  testutil.NewTestLogger(t),
	}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, fixture
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if v != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// =============================================================================
// Bootstrap and selectors
// =============================================================================

func TestInit(t *testing.T) {
	srv, fixture := setupTestServer(t)
	fixture.Submit(testutil.SampleRun()...)

	var snap core.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/init", &snap))
	assert.Equal(t, core.ProtocolVersion, snap.ProtocolVersion)
	assert.Equal(t, uint64(8), snap.Seq)
	assert.True(t, snap.Ended)
	assert.Equal(t, []string{"auth"}, snap.RootSuiteIDs)
}

func TestNode(t *testing.T) {
	srv, fixture := setupTestServer(t)
	fixture.Submit(testutil.SampleRun()...)

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantNode   NodeView
	}{
		{
			name:       "suite rollup",
			id:         "auth",
			wantStatus: http.StatusOK,
			wantNode: NodeView{
				ID: "auth", Kind: "suite", Status: core.StatusSuccess, Retried: true, Shown: true,
				Children: []string{"auth login", "auth logout"},
			},
		},
		{
			name:       "browser with retries",
			id:         "auth login@chrome",
			wantStatus: http.StatusOK,
			wantNode: NodeView{
				ID: "auth login@chrome", Kind: "browser", Status: core.StatusSuccess, Retried: true, Shown: true,
				Children: []string{"auth login@chrome#0", "auth login@chrome#1"},
			},
		},
		{
			name:       "failed attempt",
			id:         "auth login@chrome#0",
			wantStatus: http.StatusOK,
			wantNode: NodeView{
				ID: "auth login@chrome#0", Kind: "result", Status: core.StatusFail, Shown: true,
				Children: []string{"auth login@chrome#0/form"},
			},
		},
		{
			name:       "image",
			id:         "auth login@chrome#0/form",
			wantStatus: http.StatusOK,
			wantNode: NodeView{
				ID: "auth login@chrome#0/form", Kind: "image", Status: core.StatusFail,
				Children: []string{},
			},
		},
		{
			name:       "unknown",
			id:         "nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got NodeView
			status := getJSON(t, srv.URL+"/api/nodes/"+url.PathEscape(tt.id), &got)
			require.Equal(t, tt.wantStatus, status)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantNode, got)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, fixture := setupTestServer(t)
	fixture.Submit(testutil.SampleRun()[:3]...)

	var h Health
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, uint64(3), h.Seq)
	assert.False(t, h.Ended)
}

// =============================================================================
// Ingestion
// =============================================================================

func TestIngest(t *testing.T) {
	srv, _ := setupTestServer(t)
	run := testutil.SampleRun()

	var body bytes.Buffer
	for _, e := range run[:3] {
		body.Write(features.FrameJSON(t, e))
		body.WriteByte('\n')
	}
	body.WriteString("{broken\n")

	resp, err := http.Post(srv.URL+"/api/runner", "application/x-ndjson", &body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var res IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Errors, 1)
}

func TestIngest_AllRejected(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Post(srv.URL+"/api/runner", "application/json", strings.NewReader(`{"event":"NOPE"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SSE stream
// =============================================================================

func TestEventsSSE_SnapshotThenEvents(t *testing.T) {
	srv, fixture := setupTestServer(t)
	run := testutil.SampleRun()
	fixture.Submit(run[:2]...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	// Wait for the snapshot before submitting more events.
	events := collectEvents(t, lines, 1)
	assert.Equal(t, []string{"SNAPSHOT:2"}, events)

	fixture.Submit(run[2:4]...)
	events = collectEvents(t, lines, 2)
	assert.Equal(t, []string{"TEST_RESULT:3", "RETRY:4"}, events)
}

// collectEvents reads SSE lines until n events with ids have been seen and
// returns them as "name:id".
func collectEvents(t *testing.T, lines <-chan string, n int) []string {
	t.Helper()
	var out []string
	var name string
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed after %v", out)
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				out = append(out, name+":"+strings.TrimPrefix(line, "id: "))
			}
		case <-timeout:
			t.Fatalf("timed out after %v", out)
		}
	}
	return out
}

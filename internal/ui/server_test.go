package ui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapreport/internal/client"
	"github.com/leapstack-labs/leapreport/internal/testutil"
	"github.com/leapstack-labs/leapreport/internal/ui/features"
)

func startServer(t *testing.T) (*httptest.Server, *features.TestFixture) {
	t.Helper()
	fixture := features.SetupTestFixture(t)
	s := NewServer(Config{
		Source:         fixture.Pipeline,
		Channel:        fixture.Channel,
		AllowedOrigins: []string{"http://viewer.example.com"},
		Logger:         testutil.NewTestLogger(t),
	})
	h, err := s.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, fixture
}

// A client attached mid-run converges to the server's tree.
func TestClientConvergesWithServer(t *testing.T) {
	srv, fixture := startServer(t)
	run := testutil.SampleRun()
	fixture.Submit(run[:3]...)

	c, err := client.New(client.Options{URL: srv.URL, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	require.Eventually(t, c.Reducer().Bootstrapped, 5*time.Second, 10*time.Millisecond)
	fixture.Submit(run[3:]...)

	select {
	case <-c.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not see the end of the run")
	}

	want, err := fixture.Pipeline.Snapshot(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(want, c.Reducer().Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("replica differs (-server +client):\n%s", diff)
	}

	cancel()
	require.NoError(t, <-errc)
}

func TestMetricsAndCORS(t *testing.T) {
	srv, _ := startServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/init", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://viewer.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "http://viewer.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAddr(t *testing.T) {
	s := NewServer(Config{Hostname: "localhost", Port: 8000})
	assert.Equal(t, "localhost:8000", s.Addr())
}

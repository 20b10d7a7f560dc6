package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal/lattice-bridge/internal/monitor"
	"github.com/bilal/lattice-bridge/internal/publisher"
	"github.com/bilal/lattice-bridge/internal/supervisor"
)

func get(t *testing.T, s *Server) Status {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func TestHealth_Initial(t *testing.T) {
	st := get(t, New("127.0.0.1:0"))
	assert.False(t, st.Running)
	assert.Equal(t, supervisor.Disconnected, st.LinkState)
	assert.Nil(t, st.LastPublish)
	assert.Empty(t, st.LastPublishAgo)
}

func TestHealth_TracksStateAndPublishes(t *testing.T) {
	s := New("127.0.0.1:0")
	s.SetRunning(true)
	s.SetLinkState(supervisor.Active, 3)

	at := time.Now().Add(-2 * time.Minute)
	s.RecordPublish(publisher.Result{At: at, EntityID: "drone-1"})
	s.RecordPublish(publisher.Result{At: at, EntityID: "drone-1"})

	st := get(t, s)
	assert.True(t, st.Running)
	assert.Equal(t, supervisor.Active, st.LinkState)
	assert.Equal(t, uint64(3), st.Epoch)
	assert.True(t, st.LastPublishOK)
	require.NotNil(t, st.LastPublish)
	assert.WithinDuration(t, at, *st.LastPublish, time.Millisecond)
	assert.Equal(t, "2 minutes ago", st.LastPublishAgo)
	assert.Equal(t, uint64(2), st.Published)

	s.RecordPublish(publisher.Result{At: time.Now(), Err: errors.New("bad status: 503")})
	st = get(t, s)
	assert.False(t, st.LastPublishOK)
	assert.Equal(t, "bad status: 503", st.LastError)
	assert.Equal(t, uint64(1), st.Failed)
}

func TestHealth_IncludesProbe(t *testing.T) {
	s := New("")
	assert.Nil(t, get(t, s).Probe)

	s.SetProbe(monitor.Report{
		Host:    "10.223.0.1",
		At:      time.Now(),
		Metrics: monitor.PingMetrics{AvgLatencyMs: 42},
		Quality: monitor.QualityGood,
	})
	st := get(t, s)
	require.NotNil(t, st.Probe)
	assert.Equal(t, monitor.QualityGood, st.Probe.Quality)
	assert.Equal(t, 42.0, st.Probe.Metrics.AvgLatencyMs)
}

func TestHealth_RejectsNonGet(t *testing.T) {
	rec := httptest.NewRecorder()
	New("").handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(ln.Addr().String())
	s.SetRunning(true)
	errc := make(chan error, 1)
	go func() { errc <- s.serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errc)
}

package alert

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/types"
)

type recordingSink struct {
	name string
	got  []types.Notification
	err  error
}

func (s *recordingSink) Send(_ context.Context, n types.Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingSink) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleNotification() types.Notification {
	return types.Notification{
		RuleName:    "high_error_rate",
		Severity:    types.SeverityCritical,
		State:       types.NotifyFiring,
		Value:       0.75,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Annotations: map[string]string{"summary": "too many errors"},
	}
}

func TestDispatcher_FanOutAndID(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("boom")}
	c := &recordingSink{name: "c"}
	d := &Dispatcher{sinks: []Sink{a, b, c}, logger: testLogger()}

	d.Dispatch(context.Background(), sampleNotification())

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	require.Len(t, c.got, 1, "a failing sink must not block later sinks")

	assert.NotEmpty(t, a.got[0].ID, "dispatch assigns an event ID")
	assert.Equal(t, a.got[0].ID, c.got[0].ID, "all sinks see the same event ID")
}

func TestNewDispatcher_UnknownType(t *testing.T) {
	_, err := NewDispatcher([]types.NotifierConfig{{Type: "pager"}}, testLogger())
	assert.Error(t, err)
}

func TestNewDispatcher_MissingFields(t *testing.T) {
	_, err := NewDispatcher([]types.NotifierConfig{{Type: types.NotifierWebhook}}, testLogger())
	assert.Error(t, err, "webhook without URL")

	_, err = NewDispatcher([]types.NotifierConfig{{Type: types.NotifierFile}}, testLogger())
	assert.Error(t, err, "file without path")
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), sampleNotification()))
	resolved := sampleNotification()
	resolved.State = types.NotifyResolved
	require.NoError(t, s.Send(context.Background(), resolved))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []types.Notification
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var n types.Notification
		require.NoError(t, json.Unmarshal(sc.Bytes(), &n))
		lines = append(lines, n)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, types.NotifyFiring, lines[0].State)
	assert.Equal(t, types.NotifyResolved, lines[1].State)
	assert.Equal(t, "high_error_rate", lines[0].RuleName)
}

func TestWebhookSink_Delivers(t *testing.T) {
	var got atomic.Pointer[types.Notification]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n types.Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		got.Store(&n)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	require.NoError(t, s.Send(context.Background(), sampleNotification()))

	n := got.Load()
	require.NotNil(t, n)
	assert.Equal(t, "high_error_rate", n.RuleName)
	assert.Equal(t, 0.75, n.Value)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	assert.Error(t, s.Send(context.Background(), sampleNotification()))
}

func TestWebhookSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	for i := 0; i < 5; i++ {
		assert.Error(t, s.Send(context.Background(), sampleNotification()))
	}

	err := s.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(5), hits.Load(), "open breaker must not reach the receiver")
}

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
	status   int
}

func newReceiver(t *testing.T) (*receiver, *httptest.Server) {
	t.Helper()
	rec := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, payload)
		status := rec.status
		rec.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *receiver) received() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]interface{}(nil), r.payloads...)
}

func TestScheduledFire(t *testing.T) {
	rec, srv := newReceiver(t)
	// httptest binds loopback, so the test service must allow private targets.
	svc := New(srv.URL, true, nil)

	require.NoError(t, svc.Start(context.Background()))

	payloads := rec.received()
	require.Len(t, payloads, 1)
	assert.Equal(t, "cadenza", payloads[0]["source"])
	assert.Equal(t, "scheduled_fire", payloads[0]["event"])
	assert.NotEmpty(t, payloads[0]["fired_at"])
}

func TestStartWithoutURL(t *testing.T) {
	svc := New("", true, nil)
	assert.Error(t, svc.Start(context.Background()))
}

func TestRunStandalone(t *testing.T) {
	rec, srv := newReceiver(t)
	svc := New("", true, nil)

	record, err := svc.RunStandalone(context.Background(),
		map[string]string{"url": srv.URL, "message": "deploy finished"},
		"", "task:abc")
	require.NoError(t, err)
	assert.Equal(t, "200 OK", record.Output)

	payloads := rec.received()
	require.Len(t, payloads, 1)
	assert.Equal(t, "task_fire", payloads[0]["event"])
	assert.Equal(t, "task:abc", payloads[0]["budget_key"])
	assert.Equal(t, "deploy finished", payloads[0]["message"])
	assert.NotContains(t, payloads[0], "url", "the target is not echoed into the payload")
}

func TestRunStandaloneRequiresURL(t *testing.T) {
	svc := New("", true, nil)
	_, err := svc.RunStandalone(context.Background(), nil, "", "task:abc")
	assert.Error(t, err)
}

func TestNon2xxIsAFailedCycle(t *testing.T) {
	rec, srv := newReceiver(t)
	rec.status = http.StatusBadGateway
	svc := New(srv.URL, true, nil)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPrivateTargetBlockedByDefault(t *testing.T) {
	_, srv := newReceiver(t)
	svc := New(srv.URL, false, nil)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook target rejected")
}

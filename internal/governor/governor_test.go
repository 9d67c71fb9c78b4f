package governor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codenerd/internal/kb"
)

// TestMain guards against goroutine leaks from Governor.Run's ticker, which
// must exit cleanly once its context is canceled.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *kb.Store {
	t.Helper()
	store, err := kb.Open(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type stubSafety struct{ enabled bool }

func (s *stubSafety) EnableForgeSafety() { s.enabled = true }

func TestKindSeverityMatchesTaxonomy(t *testing.T) {
	assert.Equal(t, SeverityCritical, KindHighAbsurdityCount.Severity())
	assert.Equal(t, SeverityCritical, KindEthosViolation.Severity())
	assert.Equal(t, SeverityWarning, KindSkillAnomaly.Severity())
	assert.Equal(t, SeverityWarning, KindSlotReadAnomaly.Severity())
}

func TestCheckAbsurdityLogRaisesCriticalAboveThreshold(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 12; i++ {
		require.NoError(t, store.AppendEvent(kb.EventRecord{TimestampMS: int64(i + 1), Component: "test", Message: "noise"}))
	}
	safety := &stubSafety{}
	g := New(store, safety, Config{MaxAbsurdityThreshold: 10}, func() int64 { return 1000 })

	require.NoError(t, g.checkAbsurdityLog(context.Background()))

	select {
	case alert := <-g.Alerts:
		assert.Equal(t, KindHighAbsurdityCount, alert.Kind)
		assert.Equal(t, SeverityCritical, alert.Severity())
	default:
		t.Fatal("expected an alert to be raised")
	}
	assert.True(t, safety.enabled, "a critical alert must enable forge safety")
}

func TestCheckAbsurdityLogSilentUnderThreshold(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendEvent(kb.EventRecord{TimestampMS: 1, Component: "test", Message: "noise"}))
	g := New(store, nil, Config{MaxAbsurdityThreshold: 10}, func() int64 { return 1000 })

	require.NoError(t, g.checkAbsurdityLog(context.Background()))
	select {
	case a := <-g.Alerts:
		t.Fatalf("unexpected alert: %+v", a)
	default:
	}
}

func TestCheckEthosAlignmentFlagsKeyword(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendEvent(kb.EventRecord{TimestampMS: 1, Component: "dispatcher", Message: "request blocked: ethos boundary crossed"}))
	g := New(store, nil, Config{}, func() int64 { return 1000 })

	require.NoError(t, g.checkEthosAlignment(context.Background()))
	select {
	case alert := <-g.Alerts:
		assert.Equal(t, KindEthosViolation, alert.Kind)
	default:
		t.Fatal("expected an ethos alert")
	}
}

func TestPostWebhookSendsPayloadOnCritical(t *testing.T) {
	received := make(chan WebhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := openTestStore(t)
	g := New(store, nil, Config{WebhookURL: srv.URL, WebhookTimeout: time.Second}, func() int64 { return 5000 })
	g.SetSovereigntyScore(0.42)

	g.raise(context.Background(), Alert{Kind: KindEthosViolation, Description: "test violation", OccurredMS: 5000})

	select {
	case p := <-received:
		assert.Equal(t, "test violation", p.AnomalyDescription)
		require.NotNil(t, p.SovereigntyScore)
		assert.InDelta(t, 0.42, *p.SovereigntyScore, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}
}

func TestRaiseNeverPostsWebhookForWarning(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := openTestStore(t)
	g := New(store, nil, Config{WebhookURL: srv.URL}, func() int64 { return 1000 })
	g.raise(context.Background(), Alert{Kind: KindSkillAnomaly, Description: "slow skill", OccurredMS: 1000})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called, "warning alerts must never trigger the webhook")
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	store := openTestStore(t)
	g := New(store, nil, Config{CheckInterval: time.Millisecond}, func() int64 { return 1000 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

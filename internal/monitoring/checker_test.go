package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/store"
)

var (
	badStats  = &store.ScanStats{Scans: 10, Compliant: 2, NonCompliant: 8}
	goodStats = &store.ScanStats{Scans: 10, Compliant: 9, NonCompliant: 1}
)

func checkerConfig(webhook string) config.MonitoringConfig {
	return config.MonitoringConfig{
		LookbackHours:              24,
		StaleAfterHours:            72,
		NoncomplianceRateThreshold: 0.5,
		StaleProductsThreshold:     50,
		WebhookURL:                 webhook,
	}
}

func countingWebhook(t *testing.T, status *atomic.Int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		code := http.StatusNoContent
		if status != nil && status.Load() != 0 {
			code = int(status.Load())
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(ts.Close)
	return ts, &received
}

func TestChecker_AlertsOnlyWhenFiringStarts(t *testing.T) {
	ts, received := countingWebhook(t, nil)

	st := &mockStats{}
	st.On("ScanStats", mock.Anything, mock.Anything).Return(badStats, nil).Twice()
	st.On("ScanStats", mock.Anything, mock.Anything).Return(goodStats, nil).Once()
	st.On("ScanStats", mock.Anything, mock.Anything).Return(badStats, nil).Once()
	st.On("CountStale", mock.Anything, mock.Anything).Return(0, nil)

	cfg := checkerConfig(ts.URL)
	checker := NewChecker(newTestCollector(st), fastAlerter(cfg), cfg)
	ctx := context.Background()

	alerts := checker.Check(ctx)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoncomplianceRate, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())

	// Still firing: reported but not re-sent.
	assert.Len(t, checker.Check(ctx), 1)
	assert.Equal(t, int32(1), received.Load())

	assert.Empty(t, checker.Check(ctx))

	// Fires again after clearing.
	assert.Len(t, checker.Check(ctx), 1)
	assert.Equal(t, int32(2), received.Load())
	st.AssertExpectations(t)
}

func TestChecker_UndeliveredAlertRetriedNextCycle(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	ts, received := countingWebhook(t, &status)

	st := &mockStats{}
	st.On("ScanStats", mock.Anything, mock.Anything).Return(badStats, nil)
	st.On("CountStale", mock.Anything, mock.Anything).Return(0, nil)

	cfg := checkerConfig(ts.URL)
	checker := NewChecker(newTestCollector(st), fastAlerter(cfg), cfg)

	checker.Check(context.Background())
	assert.Equal(t, int32(1), received.Load())

	status.Store(0)
	checker.Check(context.Background())
	assert.Equal(t, int32(2), received.Load())

	checker.Check(context.Background())
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	st := &mockStats{}
	st.On("ScanStats", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	cfg := config.MonitoringConfig{LookbackHours: 24}
	checker := NewChecker(newTestCollector(st), NewAlerter(cfg), cfg)
	assert.Nil(t, checker.Check(context.Background()))
}

func TestChecker_RunChecksImmediately(t *testing.T) {
	ts, received := countingWebhook(t, nil)

	st := &mockStats{}
	st.On("ScanStats", mock.Anything, mock.Anything).Return(badStats, nil)
	st.On("CountStale", mock.Anything, mock.Anything).Return(0, nil)

	cfg := checkerConfig(ts.URL)
	cfg.CheckIntervalSecs = 3600
	checker := NewChecker(newTestCollector(st), fastAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return received.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_RunCancelledBeforeStart(t *testing.T) {
	cfg := config.MonitoringConfig{}
	st := &mockStats{}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	st.AssertNotCalled(t, "ScanStats", mock.Anything, mock.Anything)
}

func TestChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(nil, nil, config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, c.interval())

	c = NewChecker(nil, nil, config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.interval())
}

package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		NoncomplianceRateThreshold: 0.5,
		StaleProductsThreshold:     10,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Scans:             100,
		Compliant:         80,
		NonCompliant:      20,
		NoncomplianceRate: 0.2,
		StaleProducts:     3,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_NoncomplianceRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Scans:             20,
		Compliant:         8,
		NonCompliant:      12,
		NoncomplianceRate: 0.6,
		AvgScore:          71.5,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoncomplianceRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "60.0%")
	assert.Equal(t, 12, alerts[0].Details["non_compliant"])
}

func TestAlerter_Evaluate_RateAtThresholdDoesNotAlert(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{Scans: 10, NonCompliant: 5, NoncomplianceRate: 0.5})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MinimumScansRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	// Only 4 scans, below the minimum for the rate alert.
	snap := &MetricsSnapshot{
		Scans:             4,
		NonCompliant:      4,
		NoncomplianceRate: 1.0,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_StaleProducts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		StaleProducts:   42,
		StaleAfterHours: 72,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleProducts, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "42 product(s)")
	assert.Contains(t, alerts[0].Message, "72h")
}

func TestAlerter_Evaluate_ZeroStaleThreshold(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.StaleProductsThreshold = 0 // disabled
	a := NewAlerter(cfg)

	alerts := a.Evaluate(&MetricsSnapshot{StaleProducts: 999})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Scans:             10,
		NonCompliant:      9,
		NoncomplianceRate: 0.9,
		StaleProducts:     11,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 2)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertNoncomplianceRate])
	assert.True(t, types[AlertStaleProducts])
}

// fastAlerter shortens webhook retry backoff for tests.
func fastAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = 5 * time.Millisecond
	return a
}

func TestAlerter_Notify_SinglePayload(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var n Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Len(t, n.Alerts, 2)
		if assert.NotNil(t, n.Snapshot) {
			assert.Equal(t, 12, n.Snapshot.Scans)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{
		{Type: AlertNoncomplianceRate, Severity: "high", Message: "rate"},
		{Type: AlertStaleProducts, Severity: "medium", Message: "stale"},
	}

	require.NoError(t, a.Notify(context.Background(), alerts, &MetricsSnapshot{Scans: 12}))
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_Notify_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.NoError(t, a.Notify(context.Background(), []Alert{{Type: AlertNoncomplianceRate}}, nil))
}

func TestAlerter_Notify_NoAlerts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("webhook called without alerts")
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.NoError(t, a.Notify(context.Background(), nil, nil))
}

func TestAlerter_Notify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	err := a.Notify(context.Background(), []Alert{{Type: AlertStaleProducts}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_Notify_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	err := a.Notify(context.Background(), []Alert{{Type: AlertStaleProducts}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_Notify_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	err := a.Notify(context.Background(), []Alert{{Type: AlertStaleProducts}}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

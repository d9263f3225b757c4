package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNoncomplianceRate AlertType = "noncompliance_rate"
	AlertStaleProducts     AlertType = "stale_products"
)

// minScansForRate keeps a handful of scans from tripping the rate alert.
const minScansForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Scans >= minScansForRate && snap.NoncomplianceRate > a.cfg.NoncomplianceRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertNoncomplianceRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Non-compliance rate %.1f%% exceeds threshold %.1f%% (%d non-compliant / %d scans in last %dh)",
				snap.NoncomplianceRate*100, a.cfg.NoncomplianceRateThreshold*100,
				snap.NonCompliant, snap.Scans, snap.LookbackHours,
			),
			Details: map[string]any{
				"noncompliance_rate": snap.NoncomplianceRate,
				"threshold":          a.cfg.NoncomplianceRateThreshold,
				"non_compliant":      snap.NonCompliant,
				"scans":              snap.Scans,
				"avg_score":          snap.AvgScore,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleProductsThreshold > 0 && snap.StaleProducts > a.cfg.StaleProductsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleProducts,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d product(s) not rescanned in %dh (threshold %d)",
				snap.StaleProducts, snap.StaleAfterHours, a.cfg.StaleProductsThreshold,
			),
			Details: map[string]any{
				"stale_products":    snap.StaleProducts,
				"stale_after_hours": snap.StaleAfterHours,
				"threshold":         a.cfg.StaleProductsThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notification is the webhook body: every alert raised by one check plus
// the snapshot that raised them.
type Notification struct {
	Alerts   []Alert          `json:"alerts"`
	Snapshot *MetricsSnapshot `json:"snapshot,omitempty"`
}

// Notify reports newly firing alerts. Alerts are always logged; with a
// webhook configured they are also posted in one request, retrying
// transient failures.
func (a *Alerter) Notify(ctx context.Context, alerts []Alert, snap *MetricsSnapshot) error {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert firing",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	payload, err := json.Marshal(Notification{Alerts: alerts, Snapshot: snap})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}

	retry := a.retry
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
	if err != nil {
		zap.L().Error("monitoring: failed to send alerts",
			zap.Int("alerts", len(alerts)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

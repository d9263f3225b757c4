package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/config"
)

// Checker evaluates compliance health on an interval. Alerts are
// edge-triggered: an alert type is sent when it starts firing and is not
// sent again until it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	every := c.interval()
	zap.L().Info("monitoring: checker started",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
		zap.Int("stale_after_hours", c.cfg.StaleAfterHours),
	)

	c.Check(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect and evaluate cycle. It returns every alert
// currently firing; only the newly firing ones are delivered.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours, c.cfg.StaleAfterHours)
	if err != nil {
		zap.L().Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	fresh := c.transition(alerts)
	if len(fresh) > 0 && c.alerter.Notify(ctx, fresh, snap) != nil {
		// Forget undelivered alerts so the next cycle retries them.
		c.mu.Lock()
		for _, a := range fresh {
			delete(c.firing, a.Type)
		}
		c.mu.Unlock()
	}

	zap.L().Debug("monitoring: check complete",
		zap.Int("firing", len(alerts)),
		zap.Int("new", len(fresh)),
		zap.Float64("noncompliance_rate", snap.NoncomplianceRate),
		zap.Int("stale_products", snap.StaleProducts),
	)
	if len(alerts) == 0 {
		return nil
	}
	return alerts
}

// transition records which alert types fire now and returns the ones that
// were not firing on the previous cycle.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			zap.L().Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = now
	return fresh
}

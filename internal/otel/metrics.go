package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all clawkeep metric instruments.
type Metrics struct {
	BootDuration     metric.Float64Histogram
	SyncDuration     metric.Float64Histogram
	SyncStepFailures metric.Int64Counter
	RestoreAttempts  metric.Int64Counter
	AuthRecoveries   metric.Int64Counter
	GatewayStarts    metric.Int64Counter
	GatewayKills     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BootDuration, err = meter.Float64Histogram("clawkeep.boot.duration",
		metric.WithDescription("Boot pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("clawkeep.sync.duration",
		metric.WithDescription("Sync iteration duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncStepFailures, err = meter.Int64Counter("clawkeep.sync.step_failures",
		metric.WithDescription("Failed sync-loop steps"),
	)
	if err != nil {
		return nil, err
	}

	m.RestoreAttempts, err = meter.Int64Counter("clawkeep.restore.attempts",
		metric.WithDescription("Backup layout probe attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthRecoveries, err = meter.Int64Counter("clawkeep.auth.recoveries",
		metric.WithDescription("Auth reconciliation recovery stage entries"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayStarts, err = meter.Int64Counter("clawkeep.gateway.starts",
		metric.WithDescription("Gateway processes spawned"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayKills, err = meter.Int64Counter("clawkeep.gateway.kills",
		metric.WithDescription("Gateway processes killed during force restart"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

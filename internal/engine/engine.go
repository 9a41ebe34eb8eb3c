// Package engine implements the event ingestion, retention, and aggregation
// core: it classifies incoming agent payloads, maintains the bounded
// per-kind stores, raises rule alerts, answers dashboard queries, and fans
// out notifications through the sink.
package engine

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
	"github.com/lenko-d/workforce-monitoring-agent/internal/store"
	"github.com/lenko-d/workforce-monitoring-agent/internal/telemetry"
)

// Sink receives realtime notifications from the ingestion path. Calls are
// fire-and-forget: implementations must never block the caller.
type Sink interface {
	// OnUpdate is invoked after every successful dispatch of a recognized
	// kind, with the original payload.
	OnUpdate(kind telemetry.Kind, raw map[string]any)
	// OnAlert is invoked for every stored alert.
	OnAlert(alert telemetry.Alert)
	// OnPatternsBatch is invoked once per behavior_patterns envelope.
	OnPatternsBatch(user string, count int, batchTimestamp string)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) OnUpdate(telemetry.Kind, map[string]any)  {}
func (NopSink) OnAlert(telemetry.Alert)                  {}
func (NopSink) OnPatternsBatch(string, int, string)      {}

// Config holds per-kind store capacities. Zero or negative means unbounded.
type Config struct {
	ActivityCapacity int `yaml:"activity_capacity"`
	DLPCapacity      int `yaml:"dlp_capacity"`
	TimeCapacity     int `yaml:"time_capacity"`
	BehaviorCapacity int `yaml:"behavior_capacity"`
}

// DefaultConfig returns the stock capacities.
func DefaultConfig() Config {
	return Config{
		ActivityCapacity: 10000,
		DLPCapacity:      1000,
		TimeCapacity:     5000,
		BehaviorCapacity: 2000,
	}
}

// Ack is the response returned to the submitting agent.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Engine owns the per-kind stores and the alert sequence. All state is
// instance-scoped; handlers receive the engine by reference.
type Engine struct {
	activities  *store.Store[telemetry.ActivityEvent]
	dlpEvents   *store.Store[telemetry.DLPEvent]
	timeEntries *store.Store[telemetry.TimeEntry]
	patterns    *store.Store[telemetry.BehaviorPattern]
	alerts      *store.Store[telemetry.Alert]

	alertSeq atomic.Int64

	sink    Sink
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an engine. sink may be nil; metrics may be nil.
func New(cfg Config, sink Sink, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		activities:  store.New[telemetry.ActivityEvent](cfg.ActivityCapacity),
		dlpEvents:   store.New[telemetry.DLPEvent](cfg.DLPCapacity),
		timeEntries: store.New[telemetry.TimeEntry](cfg.TimeCapacity),
		patterns:    store.New[telemetry.BehaviorPattern](cfg.BehaviorCapacity),
		alerts:      store.New[telemetry.Alert](0),
		sink:        sink,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Ingest classifies a raw agent payload and routes it to the matching store,
// applying kind-specific defaulting and side-effecting alert rules. Unknown
// kinds are acked but dropped, matching the original permissive behavior;
// the drop is logged and counted so it stays observable.
func (e *Engine) Ingest(raw map[string]any) Ack {
	start := e.now()
	kind := telemetry.KindOf(raw)

	switch kind {
	case telemetry.KindActivity:
		e.activities.Append(telemetry.DecodeActivity(raw))

	case telemetry.KindDLP:
		ev := telemetry.DecodeDLP(raw)
		e.dlpEvents.Append(ev)
		if ev.Blocked {
			policy := ev.PolicyViolated
			if policy == "" {
				policy = "Unknown"
			}
			e.RaiseAlert("DLP Violation", "Blocked: "+policy, telemetry.SeverityHigh, ev.User)
		}

	case telemetry.KindTime:
		e.timeEntries.Append(telemetry.DecodeTimeTracking(raw))

	case telemetry.KindAnomaly:
		pattern := telemetry.DecodeAnomaly(raw)
		e.patterns.Append(pattern)
		desc := pattern.Description
		if desc == "" {
			desc = "Anomalous behavior detected"
		}
		e.RaiseAlert("Behavior Anomaly", desc, telemetry.SeverityMedium, pattern.User)

	case telemetry.KindProductivity:
		e.timeEntries.Append(telemetry.DecodeProductivity(raw, start))

	case telemetry.KindAppUsage:
		e.timeEntries.Append(telemetry.DecodeAppUsage(raw, start))

	case telemetry.KindAlert:
		alert := telemetry.DecodeAlert(raw, start)
		alert.ID = e.alertSeq.Add(1)
		e.alerts.Append(alert)
		if e.metrics != nil {
			e.metrics.AlertsRaised.WithLabelValues(alert.Severity).Inc()
		}
		e.sink.OnAlert(alert)

	case telemetry.KindBehaviorBatch:
		batch := telemetry.DecodeBehaviorBatch(raw, start)
		for _, pattern := range batch.Patterns {
			e.patterns.Append(pattern)
		}
		e.logger.Debug("behavior patterns batch processed",
			zap.String("user", batch.User),
			zap.Int("count", len(batch.Patterns)))
		e.sink.OnPatternsBatch(batch.User, len(batch.Patterns), batch.BatchTimestamp)

	case telemetry.KindUnknown:
		e.logger.Debug("dropping event with unrecognized kind")
		if e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
		return Ack{Status: "success", Message: "Data processed successfully"}
	}

	if e.metrics != nil {
		e.metrics.EventsIngested.WithLabelValues(string(kind)).Inc()
		e.metrics.IngestDuration.Observe(e.now().Sub(start).Seconds())
		e.updateStoreGauges()
	}
	e.sink.OnUpdate(kind, raw)

	return Ack{Status: "success", Message: "Data processed successfully"}
}

// RaiseAlert assigns the next alert ID from the atomic sequence, stores the
// alert, and pushes it through the sink's alert channel.
func (e *Engine) RaiseAlert(title, description, severity, user string) telemetry.Alert {
	alert := telemetry.Alert{
		ID:          e.alertSeq.Add(1),
		Title:       title,
		Description: description,
		Severity:    severity,
		User:        user,
		Timestamp:   telemetry.FormatTimestamp(e.now()),
	}
	e.alerts.Append(alert)
	if e.metrics != nil {
		e.metrics.AlertsRaised.WithLabelValues(severity).Inc()
	}
	e.sink.OnAlert(alert)
	return alert
}

// AcknowledgeAlert marks the alert with the given ID acknowledged. It
// reports false if no such alert is stored.
func (e *Engine) AcknowledgeAlert(id int64) bool {
	return e.alerts.Mutate(func(a *telemetry.Alert) bool {
		if a.ID != id {
			return false
		}
		a.Acknowledged = true
		return true
	})
}

func (e *Engine) updateStoreGauges() {
	e.metrics.StoreSize.WithLabelValues("activities").Set(float64(e.activities.Len()))
	e.metrics.StoreSize.WithLabelValues("dlp_events").Set(float64(e.dlpEvents.Len()))
	e.metrics.StoreSize.WithLabelValues("time_entries").Set(float64(e.timeEntries.Len()))
	e.metrics.StoreSize.WithLabelValues("behavior_patterns").Set(float64(e.patterns.Len()))
	e.metrics.StoreSize.WithLabelValues("alerts").Set(float64(e.alerts.Len()))
}

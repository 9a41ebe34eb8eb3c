package engine

import (
	"time"

	"github.com/lenko-d/workforce-monitoring-agent/internal/analytics"
	"github.com/lenko-d/workforce-monitoring-agent/internal/telemetry"
)

// Read-side surface: every method works against a point-in-time snapshot of
// the affected store, so long aggregation passes never block ingestion.

// RecentActivities returns up to limit most-recent activities, optionally
// filtered by user, in insertion order.
func (e *Engine) RecentActivities(user string, limit int) []telemetry.ActivityEvent {
	return e.activities.Snapshot(limit, func(a telemetry.ActivityEvent) bool {
		return user == "" || a.User == user
	})
}

// RecentDLPEvents returns up to limit most-recent DLP events.
func (e *Engine) RecentDLPEvents(limit int) []telemetry.DLPEvent {
	return e.dlpEvents.Snapshot(limit, nil)
}

// RecentAlerts returns up to limit most-recent alerts, optionally filtered
// by user.
func (e *Engine) RecentAlerts(user string, limit int) []telemetry.Alert {
	return e.alerts.Snapshot(limit, func(a telemetry.Alert) bool {
		return user == "" || a.User == user
	})
}

// PatternsResult is the behavior-pattern query response: the limited page
// plus the size of the filtered set it was cut from.
type PatternsResult struct {
	Patterns      []telemetry.BehaviorPattern `json:"patterns"`
	TotalCount    int                         `json:"total_count"`
	FilteredCount int                         `json:"filtered_count"`
}

// RecentPatterns returns up to limit most-recent behavior patterns matching
// the optional user and pattern_type filters.
func (e *Engine) RecentPatterns(user, patternType string, limit int) PatternsResult {
	keep := func(p telemetry.BehaviorPattern) bool {
		if user != "" && p.User != user {
			return false
		}
		if patternType != "" && p.PatternType != patternType {
			return false
		}
		return true
	}
	all := e.patterns.Snapshot(0, keep)
	page := all
	if limit > 0 && len(page) > limit {
		page = page[len(page)-limit:]
	}
	if page == nil {
		page = []telemetry.BehaviorPattern{}
	}
	return PatternsResult{Patterns: page, TotalCount: len(all), FilteredCount: len(page)}
}

// Dashboard is the overview aggregate for the main dashboard view.
type Dashboard struct {
	TotalUsers        int     `json:"total_users"`
	TotalAlerts       int     `json:"total_alerts"`
	ActiveSessions    int     `json:"active_sessions"`
	ProductivityScore float64 `json:"productivity_score"`
	RiskScore         float64 `json:"risk_score"`
}

// DashboardData computes the dashboard overview from current store contents.
func (e *Engine) DashboardData() Dashboard {
	users := make(map[string]struct{})
	for _, a := range e.activities.All() {
		user := a.User
		if user == "" {
			user = "unknown"
		}
		users[user] = struct{}{}
	}

	active := 0
	entries := e.timeEntries.All()
	for _, entry := range entries {
		if entry.Active {
			active++
		}
	}

	return Dashboard{
		TotalUsers:        len(users),
		TotalAlerts:       e.alerts.Len(),
		ActiveSessions:    active,
		ProductivityScore: analytics.Productivity(entries).AverageScore,
		RiskScore:         e.OverallRiskScore(),
	}
}

// ProductivityWindow computes productivity metrics over time entries inside
// the trailing window of the given number of days, optionally filtered by
// user. Entries are windowed on start_time with a fallback to timestamp;
// entries with neither parseable are excluded.
func (e *Engine) ProductivityWindow(user string, days int) analytics.ProductivityMetrics {
	end := e.now().UTC()
	start := end.AddDate(0, 0, -days)

	entries := e.timeEntries.Snapshot(0, func(entry telemetry.TimeEntry) bool {
		if user != "" && entry.User != user {
			return false
		}
		ts := entry.StartTime
		if ts == "" {
			ts = entry.Timestamp
		}
		t, err := telemetry.ParseTimestamp(ts)
		if err != nil {
			return false
		}
		return !t.Before(start) && !t.After(end)
	})
	return analytics.Productivity(entries)
}

// RiskAnalysis is the risk view aggregate.
type RiskAnalysis struct {
	RiskDistribution analytics.RiskDistribution  `json:"risk_distribution"`
	RecentAnomalies  []telemetry.BehaviorPattern `json:"recent_anomalies"`
	OverallRiskScore float64                     `json:"overall_risk_score"`
}

// RiskAnalysisData distributes the (optionally user-filtered) patterns by
// confidence band and attaches the ten most recent anomalies. The overall
// risk score is always system-wide.
func (e *Engine) RiskAnalysisData(user string) RiskAnalysis {
	keep := func(p telemetry.BehaviorPattern) bool {
		return user == "" || p.User == user
	}
	patterns := e.patterns.Snapshot(0, keep)
	recent := patterns
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if recent == nil {
		recent = []telemetry.BehaviorPattern{}
	}
	return RiskAnalysis{
		RiskDistribution: analytics.DistributeRisk(patterns),
		RecentAnomalies:  recent,
		OverallRiskScore: e.OverallRiskScore(),
	}
}

// OverallRiskScore computes the composite risk score from current patterns,
// falling back to alert volume when no patterns are stored.
func (e *Engine) OverallRiskScore() float64 {
	return analytics.RiskScore(e.patterns.All(), e.alerts.All())
}

// ApplicationUsage ranks applications by tracked time.
func (e *Engine) ApplicationUsage(user string, limit int) []analytics.AppUsage {
	return analytics.ApplicationUsage(e.timeEntries.All(), user, limit)
}

// ActivityTrend buckets recent activity counts by calendar day.
func (e *Engine) ActivityTrend(user string, days int) analytics.Trend {
	return analytics.ActivityTrend(e.activities.All(), user, days, e.now())
}

// SweepOlderThan prunes every store of records older than cutoff, applying
// the per-kind timestamp fallback rules. Records whose timestamps cannot be
// parsed are treated as not recent and removed. Returns removed counts per
// store.
func (e *Engine) SweepOlderThan(cutoff time.Time) map[string]int {
	recent := func(ts string) bool {
		t, err := telemetry.ParseTimestamp(ts)
		return err == nil && t.After(cutoff)
	}

	removed := map[string]int{
		"activities": e.activities.Prune(func(a telemetry.ActivityEvent) bool {
			return recent(a.Timestamp)
		}),
		"dlp_events": e.dlpEvents.Prune(func(d telemetry.DLPEvent) bool {
			return recent(d.Timestamp)
		}),
		// A time entry recent by either field survives.
		"time_entries": e.timeEntries.Prune(func(t telemetry.TimeEntry) bool {
			return recent(t.StartTime) || recent(t.Timestamp)
		}),
		"behavior_patterns": e.patterns.Prune(func(p telemetry.BehaviorPattern) bool {
			return recent(p.Timestamp)
		}),
		"alerts": e.alerts.Prune(func(a telemetry.Alert) bool {
			return recent(a.Timestamp)
		}),
	}

	if e.metrics != nil {
		for name, n := range removed {
			if n > 0 {
				e.metrics.SweepRemoved.WithLabelValues(name).Add(float64(n))
			}
		}
		e.updateStoreGauges()
	}
	return removed
}

// Store sizes, used by the readiness and stats surfaces.
type StoreSizes struct {
	Activities       int `json:"activities"`
	DLPEvents        int `json:"dlp_events"`
	TimeEntries      int `json:"time_entries"`
	BehaviorPatterns int `json:"behavior_patterns"`
	Alerts           int `json:"alerts"`
}

// Sizes reports the current record count of every store.
func (e *Engine) Sizes() StoreSizes {
	return StoreSizes{
		Activities:       e.activities.Len(),
		DLPEvents:        e.dlpEvents.Len(),
		TimeEntries:      e.timeEntries.Len(),
		BehaviorPatterns: e.patterns.Len(),
		Alerts:           e.alerts.Len(),
	}
}

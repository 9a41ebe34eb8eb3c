// Package analytics computes derived metrics over store snapshots:
// productivity scoring, application usage ranking, activity trends, and
// composite risk. Every function is stateless and recomputes from the
// snapshot it is handed; call volume is low relative to ingestion, so
// correctness wins over caching.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lenko-d/workforce-monitoring-agent/internal/telemetry"
)

// ProductivityMetrics summarizes productive vs total tracked time.
type ProductivityMetrics struct {
	AverageScore        float64 `json:"average_score"`
	TotalProductiveTime float64 `json:"total_productive_time"`
	TotalTime           float64 `json:"total_time"`
	EntriesCount        int     `json:"entries_count"`
}

// Productivity accumulates time across the three time-entry sub-shapes.
// Raw tracking entries contribute their duration, counted productive only
// when the application classifies as productive; summary shapes contribute
// their own totals (usage summaries are hours, converted to seconds).
func Productivity(entries []telemetry.TimeEntry) ProductivityMetrics {
	m := ProductivityMetrics{EntriesCount: len(entries)}
	for _, entry := range entries {
		switch entry.Shape {
		case telemetry.ShapeTime:
			m.TotalTime += entry.Duration
			if IsProductiveApp(entry.Application) {
				m.TotalProductiveTime += entry.Duration
			}
		case telemetry.ShapeProductivity:
			m.TotalTime += entry.TotalTime
			m.TotalProductiveTime += entry.ProductiveTime
		case telemetry.ShapeAppUsage:
			m.TotalTime += entry.SessionDurationHours * 3600
			m.TotalProductiveTime += entry.ProductiveTimeHours * 3600
		}
	}
	if m.TotalTime > 0 {
		m.AverageScore = m.TotalProductiveTime / m.TotalTime
	}
	return m
}

// Application classification lists. The allow list is checked first; an
// application matching neither list is treated as not productive.
var (
	productiveApps = []string{
		"code", "vscode", "sublime", "vim", "emacs",
		"chrome", "firefox", "edge",
		"libreoffice", "soffice", "excel", "word",
	}
	unproductiveApps = []string{
		"facebook", "twitter", "instagram", "youtube",
		"netflix", "spotify", "games",
	}
)

// IsProductiveApp classifies an application by case-insensitive substring
// match against the allow list, then the deny list.
func IsProductiveApp(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range productiveApps {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, u := range unproductiveApps {
		if strings.Contains(lower, u) {
			return false
		}
	}
	return false
}

// AppUsage is one row of the application usage ranking.
type AppUsage struct {
	Application        string  `json:"application"`
	TotalTimeSeconds   float64 `json:"total_time_seconds"`
	TotalTimeFormatted string  `json:"total_time_formatted"`
	IsProductive       bool    `json:"is_productive"`
}

// ApplicationUsage sums tracked duration per application across raw
// time-tracking entries (summary shapes are skipped), optionally filtered by
// user, ranked by total seconds descending and truncated to limit.
func ApplicationUsage(entries []telemetry.TimeEntry, user string, limit int) []AppUsage {
	totals := make(map[string]float64)
	for _, entry := range entries {
		if entry.Shape != telemetry.ShapeTime {
			continue
		}
		if user != "" && entry.User != user {
			continue
		}
		app := entry.Application
		if app == "" {
			app = "Unknown"
		}
		totals[app] += entry.Duration
	}

	usage := make([]AppUsage, 0, len(totals))
	for app, seconds := range totals {
		usage = append(usage, AppUsage{
			Application:        app,
			TotalTimeSeconds:   seconds,
			TotalTimeFormatted: FormatDuration(seconds),
			IsProductive:       IsProductiveApp(app),
		})
	}
	sort.SliceStable(usage, func(i, j int) bool {
		return usage[i].TotalTimeSeconds > usage[j].TotalTimeSeconds
	})
	if limit > 0 && len(usage) > limit {
		usage = usage[:limit]
	}
	return usage
}

// FormatDuration renders seconds as "Ns", "Mm Ss", or "Hh Mm".
func FormatDuration(seconds float64) string {
	s := int(seconds)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}

// Trend is a per-day activity count series over a trailing window.
type Trend struct {
	Labels          []string `json:"labels"`
	Data            []int    `json:"data"`
	TotalActivities int      `json:"total_activities"`
}

// ActivityTrend buckets activities by calendar day over [now-days, now].
// Buckets are labeled with abbreviated weekday names in chronological order
// starting at the window's earliest day; days without activity still appear
// with a zero count. Records with unparsable or out-of-window timestamps are
// excluded.
func ActivityTrend(activities []telemetry.ActivityEvent, user string, days int, now time.Time) Trend {
	now = now.UTC()
	start := now.AddDate(0, 0, -days)

	type day struct{ year, month, yday int }
	dayOf := func(t time.Time) day {
		return day{t.Year(), int(t.Month()), t.YearDay()}
	}

	trend := Trend{
		Labels: make([]string, 0, days),
		Data:   make([]int, days),
	}
	index := make(map[day]int, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		index[dayOf(d)] = i
		trend.Labels = append(trend.Labels, d.Format("Mon"))
	}

	for _, activity := range activities {
		if user != "" && activity.User != user {
			continue
		}
		ts, err := telemetry.ParseTimestamp(activity.Timestamp)
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(now) {
			continue
		}
		trend.TotalActivities++
		if i, ok := index[dayOf(ts)]; ok {
			trend.Data[i]++
		}
	}
	return trend
}

// RiskDistribution buckets behavior patterns by confidence score.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DistributeRisk classifies patterns as low (<0.3), medium ([0.3,0.7)), or
// high (>=0.7) confidence.
func DistributeRisk(patterns []telemetry.BehaviorPattern) RiskDistribution {
	var dist RiskDistribution
	for _, p := range patterns {
		switch {
		case p.ConfidenceScore < 0.3:
			dist.Low++
		case p.ConfidenceScore < 0.7:
			dist.Medium++
		default:
			dist.High++
		}
	}
	return dist
}

// riskWindow is how many of the most recent patterns or alerts feed the
// composite risk score.
const riskWindow = 100

// RiskScore computes the composite risk score in [0,1]. With behavior
// patterns present it scores the most recent 100 by confidence band;
// otherwise it falls back to alert severity volume over the most recent 100
// alerts plus a baseline that grows with total alert count. The branches are
// mutually exclusive, never blended.
func RiskScore(patterns []telemetry.BehaviorPattern, alerts []telemetry.Alert) float64 {
	if len(patterns) == 0 {
		return alertRiskScore(alerts)
	}

	recent := patterns
	if len(recent) > riskWindow {
		recent = recent[len(recent)-riskWindow:]
	}
	var high, medium int
	for _, p := range recent {
		switch {
		case p.ConfidenceScore > 0.7:
			high++
		case p.ConfidenceScore >= 0.4:
			medium++
		}
	}
	score := (float64(high)*0.8 + float64(medium)*0.4) / float64(len(recent))
	return min(score, 1.0)
}

func alertRiskScore(alerts []telemetry.Alert) float64 {
	if len(alerts) == 0 {
		return 0.0
	}
	recent := alerts
	if len(recent) > riskWindow {
		recent = recent[len(recent)-riskWindow:]
	}
	var high, medium int
	for _, a := range recent {
		switch a.Severity {
		case telemetry.SeverityHigh:
			high++
		case telemetry.SeverityMedium:
			medium++
		}
	}
	alertRisk := (float64(high)*0.6 + float64(medium)*0.3) / float64(len(recent))
	baseline := min(float64(len(alerts))/1000.0, 0.2)
	return min(alertRisk+baseline, 1.0)
}

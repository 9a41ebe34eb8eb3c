// Package telemetry defines the typed event model for the workforce
// monitoring pipeline: the record kinds agents emit, the classifier that
// turns an untyped agent payload into one of them, and the timestamp
// normalizer shared by retention and trend bucketing.
package telemetry

import "time"

// Kind is the `type` discriminator agents attach to every payload.
type Kind string

const (
	KindActivity      Kind = "activity"
	KindDLP           Kind = "dlp"
	KindTime          Kind = "time"
	KindAnomaly       Kind = "anomaly"
	KindProductivity  Kind = "productivity"
	KindAppUsage      Kind = "app_usage"
	KindAlert         Kind = "alert"
	KindBehaviorBatch Kind = "behavior_patterns"
	KindUnknown       Kind = ""
)

// KindOf extracts the discriminator from a raw payload. Absent or unknown
// values map to KindUnknown; the dispatcher acks but drops those.
func KindOf(raw map[string]any) Kind {
	t, _ := raw["type"].(string)
	switch k := Kind(t); k {
	case KindActivity, KindDLP, KindTime, KindAnomaly,
		KindProductivity, KindAppUsage, KindAlert, KindBehaviorBatch:
		return k
	default:
		return KindUnknown
	}
}

// ActivityEvent is a window/input activity sample from the activity monitor.
type ActivityEvent struct {
	User         string         `json:"user"`
	Timestamp    string         `json:"timestamp"`
	ActivityType string         `json:"activity_type"`
	Details      map[string]any `json:"details,omitempty"`
}

// DLPEvent is a data-loss-prevention verdict. Blocked events raise a
// high-severity alert downstream.
type DLPEvent struct {
	User           string `json:"user"`
	Timestamp      string `json:"timestamp"`
	PolicyViolated string `json:"policy_violated"`
	Blocked        bool   `json:"blocked"`
}

// Time entry sub-shapes. Three payload kinds share the time-entry store;
// aggregation dispatches on Shape.
const (
	ShapeTime         = "time"
	ShapeProductivity = "productivity"
	ShapeAppUsage     = "app_usage"
)

// TimeEntry holds one of three sub-shapes: raw application time tracking,
// a productivity summary, or a session usage summary.
type TimeEntry struct {
	Shape string `json:"type"`
	User  string `json:"user"`

	// Raw time tracking.
	StartTime   string  `json:"start_time,omitempty"`
	Application string  `json:"application,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Active      bool    `json:"active,omitempty"`

	// Shared by the summary shapes.
	Timestamp         string  `json:"timestamp,omitempty"`
	ProductivityScore float64 `json:"productivity_score,omitempty"`

	// Productivity summary (seconds).
	ProductiveTime float64 `json:"productive_time,omitempty"`
	TotalTime      float64 `json:"total_time,omitempty"`

	// Usage summary (hours, plus the per-application breakdown the agent
	// computed itself).
	SessionDurationHours float64          `json:"session_duration_hours,omitempty"`
	ProductiveTimeHours  float64          `json:"productive_time_hours,omitempty"`
	ApplicationUsage     []map[string]any `json:"application_usage,omitempty"`
}

// BehaviorPattern is a single behavioral anomaly observation. Confidence is
// produced in [0,1] by the agent; the engine stores it as-is.
type BehaviorPattern struct {
	User            string  `json:"user"`
	PatternType     string  `json:"pattern_type"`
	Description     string  `json:"description"`
	ConfidenceScore float64 `json:"confidence_score"`
	Timestamp       string  `json:"timestamp"`
	BatchProcessed  bool    `json:"batch_processed,omitempty"`
}

// Alert is a stored alert, either raised by a dispatch rule or submitted
// directly by an agent. ID and Acknowledged are the only engine-managed
// fields.
type Alert struct {
	ID           int64  `json:"id"`
	AlertType    string `json:"alert_type,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	User         string `json:"user"`
	Timestamp    string `json:"timestamp"`
	Acknowledged bool   `json:"acknowledged"`
}

// Alert severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// BehaviorBatch is the expanded form of a behavior_patterns envelope.
type BehaviorBatch struct {
	User           string
	BatchTimestamp string
	Patterns       []BehaviorPattern
}

// DecodeActivity maps a raw activity payload verbatim.
func DecodeActivity(raw map[string]any) ActivityEvent {
	ev := ActivityEvent{
		User:         getString(raw, "user"),
		Timestamp:    getString(raw, "timestamp"),
		ActivityType: getString(raw, "activity_type"),
	}
	if d, ok := raw["details"].(map[string]any); ok {
		ev.Details = d
	}
	return ev
}

// DecodeDLP maps a raw dlp payload verbatim.
func DecodeDLP(raw map[string]any) DLPEvent {
	return DLPEvent{
		User:           getString(raw, "user"),
		Timestamp:      getString(raw, "timestamp"),
		PolicyViolated: getString(raw, "policy_violated"),
		Blocked:        getBool(raw, "blocked"),
	}
}

// DecodeTimeTracking maps a raw time-tracking payload verbatim.
func DecodeTimeTracking(raw map[string]any) TimeEntry {
	return TimeEntry{
		Shape:       ShapeTime,
		User:        getString(raw, "user"),
		StartTime:   getString(raw, "start_time"),
		Timestamp:   getString(raw, "timestamp"),
		Application: getString(raw, "application"),
		Duration:    getFloat(raw, "duration"),
		Active:      getBool(raw, "active"),
	}
}

// DecodeProductivity normalizes a productivity summary, defaulting user and
// timestamp per the dispatch contract.
func DecodeProductivity(raw map[string]any, now time.Time) TimeEntry {
	return TimeEntry{
		Shape:             ShapeProductivity,
		User:              stringOr(raw, "user", "unknown"),
		ProductivityScore: getFloat(raw, "productivity_score"),
		ProductiveTime:    getFloat(raw, "productive_time"),
		TotalTime:         getFloat(raw, "total_time"),
		Timestamp:         stringOr(raw, "timestamp", FormatTimestamp(now)),
	}
}

// DecodeAppUsage normalizes a session usage summary.
func DecodeAppUsage(raw map[string]any, now time.Time) TimeEntry {
	entry := TimeEntry{
		Shape:                ShapeAppUsage,
		User:                 stringOr(raw, "user", "unknown"),
		Timestamp:            stringOr(raw, "timestamp", FormatTimestamp(now)),
		SessionDurationHours: getFloat(raw, "session_duration_hours"),
		ProductiveTimeHours:  getFloat(raw, "productive_time_hours"),
		ProductivityScore:    getFloat(raw, "productivity_score"),
	}
	if usage, ok := raw["application_usage"].([]any); ok {
		for _, u := range usage {
			if m, ok := u.(map[string]any); ok {
				entry.ApplicationUsage = append(entry.ApplicationUsage, m)
			}
		}
	}
	return entry
}

// DecodeAnomaly maps an anomaly payload to a single behavior pattern record.
func DecodeAnomaly(raw map[string]any) BehaviorPattern {
	return BehaviorPattern{
		User:            getString(raw, "user"),
		PatternType:     getString(raw, "pattern_type"),
		Description:     getString(raw, "description"),
		ConfidenceScore: getFloat(raw, "confidence_score"),
		Timestamp:       getString(raw, "timestamp"),
	}
}

// DecodeAlert normalizes a direct alert submission. The ID is assigned later
// by the alert engine.
func DecodeAlert(raw map[string]any, now time.Time) Alert {
	return Alert{
		AlertType:    stringOr(raw, "alert_type", "unknown"),
		Title:        stringOr(raw, "title", "Alert"),
		Description:  getString(raw, "description"),
		Severity:     stringOr(raw, "severity", SeverityLow),
		User:         stringOr(raw, "user", "unknown"),
		Timestamp:    stringOr(raw, "timestamp", FormatTimestamp(now)),
		Acknowledged: false,
	}
}

// DecodeBehaviorBatch expands a behavior_patterns envelope into individual
// pattern records, each defaulted independently.
func DecodeBehaviorBatch(raw map[string]any, now time.Time) BehaviorBatch {
	batch := BehaviorBatch{
		User:           stringOr(raw, "user", "unknown"),
		BatchTimestamp: stringOr(raw, "batch_timestamp", FormatTimestamp(now)),
	}
	patterns, _ := raw["patterns"].([]any)
	for _, p := range patterns {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		batch.Patterns = append(batch.Patterns, BehaviorPattern{
			User:            stringOr(m, "user", "unknown"),
			PatternType:     stringOr(m, "pattern_type", "unknown"),
			Description:     getString(m, "description"),
			ConfidenceScore: getFloat(m, "confidence_score"),
			Timestamp:       stringOr(m, "timestamp", FormatTimestamp(now)),
			BatchProcessed:  true,
		})
	}
	return batch
}

// Field extraction helpers. Agent payloads arrive as decoded JSON, so
// numbers are float64, but Unix-epoch timestamps occasionally show up as
// numbers where a string is expected; getString renders those.

func getString(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return FormatEpoch(v)
	default:
		return ""
	}
}

func stringOr(raw map[string]any, key, fallback string) string {
	if s := getString(raw, key); s != "" {
		return s
	}
	return fallback
}

func getFloat(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func getBool(raw map[string]any, key string) bool {
	b, _ := raw[key].(bool)
	return b
}

package output

import (
	"strings"
	"time"
)

// Subject kinds under the configured prefix
const (
	KindTelemetry = "telemetry"
	KindEvents    = "events"
	KindHealth    = "health"
)

// BuildSubject constructs a subject in the format {prefix}.{kind}.{instance}.
// Dots inside the instance id would add levels, so they become dashes.
func BuildSubject(prefix, kind, instanceID string) string {
	instanceID = strings.ReplaceAll(instanceID, ".", "-")
	prefix = strings.TrimSuffix(prefix, ".")
	return prefix + "." + kind + "." + instanceID
}

// BuildTelemetrySubject is the subject for mirrored ticks
func BuildTelemetrySubject(prefix, instanceID string) string {
	return BuildSubject(prefix, KindTelemetry, instanceID)
}

// BuildEventsSubject is the subject for discrete events
func BuildEventsSubject(prefix, instanceID string) string {
	return BuildSubject(prefix, KindEvents, instanceID)
}

// BuildHealthSubject is the subject for heartbeats
func BuildHealthSubject(prefix, instanceID string) string {
	return BuildSubject(prefix, KindHealth, instanceID)
}

// BuildHeader constructs the mirror file prefix: [INSTANCE][YYYY-MM-DD HH:MM:SS.mmm]
func BuildHeader(instanceID string, timestamp time.Time) string {
	return "[" + instanceID + "][" + FormatTimestamp(timestamp) + "] "
}

// FormatTimestamp formats a timestamp with milliseconds
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000")
}

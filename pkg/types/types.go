// Package types defines the public domain types shared across the Vigil
// metrics and alerting engine.
package types

import "time"

// Severity classifies how urgent a rule's alert is.
type Severity string

// Severity values, lowest to highest urgency.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlertState is the sustain state of a rule's alert.
type AlertState string

// AlertState values. A rule is Pending while its condition has been true for
// less than the rule's sustain duration, and Firing once it has held long enough.
const (
	StateInactive AlertState = "inactive"
	StatePending  AlertState = "pending"
	StateFiring   AlertState = "firing"
)

// NotificationState marks whether a notification announces a newly firing
// alert or the resolution of one.
type NotificationState string

// NotificationState values.
const (
	NotifyFiring   NotificationState = "firing"
	NotifyResolved NotificationState = "resolved"
)

// Notification is the event pushed to notification sinks when a rule enters
// or leaves the firing state. Delivery is best-effort; the engine never
// retries (retry and queueing belong to the sink).
type Notification struct {
	ID          string            `json:"id"`
	RuleName    string            `json:"ruleName"`
	Severity    Severity          `json:"severity"`
	State       NotificationState `json:"state"`
	Value       float64           `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// RuleConfig is the declarative form of an alert rule as it appears in a
// rule file. Parsed and validated by the rules package.
type RuleConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Expr        string            `yaml:"expr" json:"expr"`
	For         string            `yaml:"for,omitempty" json:"for,omitempty"` // Go duration, e.g. "2m"
	Severity    Severity          `yaml:"severity,omitempty" json:"severity,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// NotifierType identifies a notification sink implementation.
type NotifierType string

// Supported notifier types.
const (
	NotifierConsole NotifierType = "console"
	NotifierFile    NotifierType = "file"
	NotifierWebhook NotifierType = "webhook"
)

// NotifierConfig configures a single notification sink.
type NotifierConfig struct {
	Type NotifierType `yaml:"type" json:"type"`
	URL  string       `yaml:"url,omitempty" json:"url,omitempty"`   // webhook
	Path string       `yaml:"path,omitempty" json:"path,omitempty"` // file
}

// RuleStatus is the externally visible evaluation state of one rule,
// returned by the rules API.
type RuleStatus struct {
	Name        string     `json:"name"`
	Expr        string     `json:"expr"`
	Severity    Severity   `json:"severity"`
	State       AlertState `json:"state"`
	ActiveSince *time.Time `json:"activeSince,omitempty"` // when the condition first became true
	LastEval    time.Time  `json:"lastEval"`
}

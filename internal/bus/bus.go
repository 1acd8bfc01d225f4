package bus

import "time"

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing event raised by the pipeline.
type Alert struct {
	Severity  Severity
	Component string
	Text      string
	At        time.Time
}

// Publish hands a onto ch without blocking. A nil channel or a full buffer
// drops the alert.
func Publish(ch chan<- Alert, a Alert) bool {
	if ch == nil {
		return false
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	select {
	case ch <- a:
		return true
	default:
		return false
	}
}

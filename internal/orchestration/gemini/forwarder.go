package gemini

import (
	"fmt"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
)

// Severity is an MCP logging level, ordered from least to most severe.
type Severity string

const (
	SeverityDebug     Severity = "debug"
	SeverityInfo      Severity = "info"
	SeverityNotice    Severity = "notice"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
	SeverityAlert     Severity = "alert"
	SeverityEmergency Severity = "emergency"
)

var severityRank = map[Severity]int{
	SeverityDebug:     0,
	SeverityInfo:      1,
	SeverityNotice:    2,
	SeverityWarning:   3,
	SeverityError:     4,
	SeverityCritical:  5,
	SeverityAlert:     6,
	SeverityEmergency: 7,
}

// ParseSeverity returns the Severity named s and whether it is known.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	_, ok := severityRank[sev]
	return sev, ok
}

// AtLeast reports whether s is as severe as min. Unknown severities are
// treated as debug.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// LogSink receives forwarded payloads. Implementations must not block.
type LogSink interface {
	Log(level Severity, payload string)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(level Severity, payload string)

// Log calls f(level, payload).
func (f LogSinkFunc) Log(level Severity, payload string) {
	f(level, payload)
}

// Forwarder delivers payloads to a LogSink without letting sink failures
// reach the caller. A nil sink drops everything.
type Forwarder struct {
	sink LogSink
}

// NewForwarder creates a Forwarder for sink, which may be nil.
func NewForwarder(sink LogSink) *Forwarder {
	return &Forwarder{sink: sink}
}

// Forward sends payload at the given level.
func (f *Forwarder) Forward(level Severity, payload string) {
	if f == nil || f.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn(log.CatOrch, "Log sink panicked",
				"subsystem", "gemini",
				"level", string(level),
				"panic", fmt.Sprint(r))
		}
	}()
	f.sink.Log(level, payload)
}

// Event forwards a decoded event's raw line at info.
func (f *Forwarder) Event(ev StreamEvent) {
	f.Forward(SeverityInfo, ev.Raw)
}

// Stderr forwards a raw stderr chunk at error.
func (f *Forwarder) Stderr(chunk string) {
	f.Forward(SeverityError, chunk)
}

package metrics

import "time"

// Recorder receives monitor instrumentation. Implementations must be safe
// for concurrent use.
type Recorder interface {
	SetStatus(status string)
	SetSessionState(state string)
	IncSessions()
	IncReconnects(delay time.Duration)
	IncHeartbeatsSent()
	IncHeartbeatAcks()
	IncFrames(kind string)
	IncDecodeErrors()
	IncEvents(result string)
	IncRenewals(result string)
	SetCredentialIssuedAt(t time.Time)
	IncForwarded(result string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Recorder = (*NopMetrics)(nil)

func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) SetStatus(string) {}
func (n *NopMetrics) SetSessionState(string) {}
func (n *NopMetrics) IncSessions() {}
func (n *NopMetrics) IncReconnects(time.Duration) {}
func (n *NopMetrics) IncHeartbeatsSent() {}
func (n *NopMetrics) IncHeartbeatAcks() {}
func (n *NopMetrics) IncFrames(string) {}
func (n *NopMetrics) IncDecodeErrors() {}
func (n *NopMetrics) IncEvents(string) {}
func (n *NopMetrics) IncRenewals(string) {}
func (n *NopMetrics) SetCredentialIssuedAt(time.Time) {}
func (n *NopMetrics) IncForwarded(string) {}

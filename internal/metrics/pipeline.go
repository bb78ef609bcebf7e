package metrics

import "fmt"

var latencyBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

// Pipeline groups the series the message pipeline records.
type Pipeline struct {
	c *Collector

	Replies        *Counter
	ReplyFailures  *Counter
	Suppressed     *Counter
	Errors         *Counter
	Reconnects     *Counter
	Connected      *Gauge
	QueueDepth     *Gauge
	HandlerLatency *Histogram
}

// NewPipeline registers the pipeline series on c.
func NewPipeline(c *Collector) *Pipeline {
	return &Pipeline{
		c:              c,
		Replies:        c.Counter("chatpipe_replies_total", "Replies delivered to the connector", ""),
		ReplyFailures:  c.Counter("chatpipe_reply_failures_total", "Replies the connector failed to send", ""),
		Suppressed:     c.Counter("chatpipe_suppressed_total", "Messages suppressed by middleware", ""),
		Errors:         c.Counter("chatpipe_errors_total", "Messages whose handling failed", ""),
		Reconnects:     c.Counter("chatpipe_reconnects_total", "Reconnect attempts made by the listener", ""),
		Connected:      c.Gauge("chatpipe_connector_connected", "1 when the connector is connected", ""),
		QueueDepth:     c.Gauge("chatpipe_queue_depth", "Messages waiting in the inbound queue", ""),
		HandlerLatency: c.Histogram("chatpipe_handle_seconds", "Time spent routing one message", "", latencyBuckets),
	}
}

// Message counts one processed message of the given type.
func (p *Pipeline) Message(msgType string) {
	p.c.Counter("chatpipe_messages_total", "Messages processed", fmt.Sprintf("type=%q", msgType)).Inc()
}

// Command counts one command execution by outcome.
func (p *Pipeline) Command(success bool) {
	p.c.Counter("chatpipe_commands_total", "Commands executed", fmt.Sprintf("success=\"%t\"", success)).Inc()
}

// Collector exposes the underlying collector.
func (p *Pipeline) Collector() *Collector {
	return p.c
}

package domain

// InboundQueue buffers raw messages pushed by a transport until the pipeline
// polls for them.
type InboundQueue interface {
	Publish(msg RawMessage)
	TryReceive() (RawMessage, bool)
	Len() int
	Close()
}

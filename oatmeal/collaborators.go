package oatmeal

import "io"

// SerialPort is the physical-driver collaborator: a non-blocking byte
// stream the reader/writer goroutines own exclusively once a Port is
// constructed around it. Any io.ReadWriteCloser satisfies it; Read should
// return promptly (it is polled from a dedicated goroutine, so a small
// blocking timeout on the underlying device is fine, an indefinite block is
// not).
type SerialPort interface {
	io.ReadWriteCloser
}

// EndpointEnumerator lists OS-level serial device paths, the collaborator
// discovery uses to find candidate endpoints before probing them.
type EndpointEnumerator interface {
	ListEndpoints() ([]string, error)
}

// DataMirror observes raw bytes flowing through a Port, for tcpdump-style
// debugging. Implementations must not share mutable state with caller
// threads: Port invokes these methods from its own reader/writer goroutines.
type DataMirror interface {
	OnIncoming(b []byte)
	OnOutgoing(b []byte)
	Close() error
}

package oatmeal

import "net"

// UDPDataMirror ports the original implementation's datagram mirror: every
// incoming/outgoing frame byte sequence is fired at a UDP peer so an
// external tool can watch traffic without instrumenting the Port itself.
// Send errors are swallowed — the mirror is an optional observer, never load
// bearing for the exchange it is watching.
type UDPDataMirror struct {
	conn net.Conn
}

// NewUDPDataMirror dials addr (host:port) over UDP and returns a DataMirror
// that forwards incoming bytes prefixed "<" and outgoing bytes prefixed ">"
// so a single capture stream can tell the two apart.
func NewUDPDataMirror(addr string) (*UDPDataMirror, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, &LinkError{Op: "dial mirror", Err: err}
	}
	return &UDPDataMirror{conn: conn}, nil
}

func (m *UDPDataMirror) OnIncoming(b []byte) { m.send('<', b) }
func (m *UDPDataMirror) OnOutgoing(b []byte) { m.send('>', b) }

func (m *UDPDataMirror) send(dir byte, b []byte) {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, dir)
	buf = append(buf, b...)
	_, _ = m.conn.Write(buf)
}

func (m *UDPDataMirror) Close() error { return m.conn.Close() }

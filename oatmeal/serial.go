package oatmeal

import (
	"github.com/jacobsa/go-serial/serial"
)

// NewSerialEndpoint opens path at baud, 8-N-1, no hardware flow control, and
// returns it as a SerialPort. It is the concrete default for the serial
// driver collaborator named in the external-interfaces contract.
func NewSerialEndpoint(path string, baud uint) (SerialPort, error) {
	opts := serial.OpenOptions{
		PortName:              path,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 100,
		MinimumReadSize:       0,
	}
	return serial.Open(opts)
}

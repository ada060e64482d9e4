package devices

import (
	"github.com/curative/oatmeal-protocol/oatmeal"
	"github.com/curative/oatmeal-protocol/wire"
)

// MemoryDevice exposes the MEMR/MEMW exchange from the original
// implementation's SimpleMemoryGetSet example, rewired onto the ACK/DONE
// model: MEMR and MEMW share the command "MEM", so both default to an
// MEMA ack and an MEMD done.
type MemoryDevice struct {
	BaseDevice
}

const MemoryRole = "memory"

type memoryClass struct{}

func (memoryClass) Role() string { return MemoryRole }

func (memoryClass) New(details oatmeal.DeviceDetails, port *oatmeal.Port) oatmeal.Device {
	return &MemoryDevice{BaseDevice{Details: details, Port: port}}
}

// MemoryDeviceClass is the DeviceClass for role "memory".
func MemoryDeviceClass() oatmeal.DeviceClass { return memoryClass{} }

// GetMemory reads the value stored at addr, via a MEMR/MEMA/MEMD exchange.
func (m *MemoryDevice) GetMemory(addr uint32) (wire.Value, error) {
	_, done, err := m.Port.SendAndDone(
		wire.Message{
			Opcode: [4]byte{'M', 'E', 'M', 'R'},
			Args:   []wire.Value{wire.IntValue(int64(addr))},
		},
		nil, nil, DefaultAckTimeout, DefaultDoneTimeout, DefaultRetries,
	)
	if err != nil {
		return wire.Value{}, err
	}
	if len(done.Args) != 1 {
		return wire.Value{}, &oatmeal.ProtocolViolationError{
			WantOpcode: "MEMD(value)", GotOpcode: done.OpcodeString(),
		}
	}
	return done.Args[0], nil
}

// SetMemory writes val at addr, via a MEMW/MEMA/MEMD exchange.
func (m *MemoryDevice) SetMemory(addr uint32, val wire.Value) error {
	_, _, err := m.Port.SendAndDone(
		wire.Message{
			Opcode: [4]byte{'M', 'E', 'M', 'W'},
			Args:   []wire.Value{wire.IntValue(int64(addr)), val},
		},
		nil, nil, DefaultAckTimeout, DefaultDoneTimeout, DefaultRetries,
	)
	return err
}

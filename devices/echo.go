package devices

import "github.com/curative/oatmeal-protocol/oatmeal"

// EchoDevice is the minimal worked example of the device-handle pattern: it
// answers discovery and halt but has no domain operations of its own. It
// stands in for SmallHardwareExample in the original implementation's
// examples directory — a board whose entire purpose is proving the
// discovery and port plumbing works.
type EchoDevice struct {
	BaseDevice
}

const EchoRole = "echo"

type echoClass struct{}

func (echoClass) Role() string { return EchoRole }

func (echoClass) New(details oatmeal.DeviceDetails, port *oatmeal.Port) oatmeal.Device {
	return &EchoDevice{BaseDevice{Details: details, Port: port}}
}

// EchoDeviceClass is the DeviceClass for role "echo", for registration with
// discovery.
func EchoDeviceClass() oatmeal.DeviceClass { return echoClass{} }

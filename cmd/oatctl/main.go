// Command oatctl discovers Oatmeal devices on the local serial endpoints and
// lets an operator poke at one from the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/curative/oatmeal-protocol/devices"
	"github.com/curative/oatmeal-protocol/oatmeal"
	"github.com/curative/oatmeal-protocol/wire"
)

var (
	app = kingpin.New("oatctl", "Discover and interact with Oatmeal peripherals.")

	baudRate = app.Flag("baud", "Serial baud rate").Default("115200").Uint()
	fast     = app.Flag("fast", "Prioritise usb/tty endpoints and stop once every role is found").Bool()

	discoverCmd = app.Command("discover", "Enumerate endpoints and report every responding device.")

	getCmd     = app.Command("get", "Read a memory-device address.")
	getDevPath = getCmd.Flag("device", "Path to the serial endpoint").Required().String()
	getAddr    = getCmd.Arg("addr", "Address to read").Required().Uint32()

	setCmd     = app.Command("set", "Write a memory-device address.")
	setDevPath = setCmd.Flag("device", "Path to the serial endpoint").Required().String()
	setAddr    = setCmd.Arg("addr", "Address to write").Required().Uint32()
	setVal     = setCmd.Arg("value", "Integer value to write").Required().Int64()
)

func main() {
	kingpin.Version("0.1")
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case discoverCmd.FullCommand():
		runDiscover()
	case getCmd.FullCommand():
		runGet()
	case setCmd.FullCommand():
		runSet()
	}
}

func classes() []oatmeal.DeviceClass {
	return []oatmeal.DeviceClass{devices.EchoDeviceClass(), devices.MemoryDeviceClass()}
}

func runDiscover() {
	opts := oatmeal.DefaultDetectOptions()
	opts.Baud = *baudRate
	opts.Fast = *fast

	found, err := oatmeal.DetectAll(oatmeal.BugStEnumerator{}, oatmeal.NewSerialEndpoint, classes(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		os.Exit(1)
	}
	if len(found) == 0 {
		fmt.Println("no devices found")
		return
	}
	for role, devs := range found {
		for _, d := range devs {
			fmt.Printf("%-10s %s\n", role, d.Role())
			_ = d.Stop()
		}
	}
}

func openMemoryDevice(path string) (*devices.MemoryDevice, error) {
	phy, err := oatmeal.NewSerialEndpoint(path, *baudRate)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	port, err := oatmeal.NewPort(phy, oatmeal.DefaultPortOptions())
	if err != nil {
		_ = phy.Close()
		return nil, err
	}
	details, err := port.AskWho(500*time.Millisecond, 1)
	if err != nil {
		_ = port.Stop()
		return nil, fmt.Errorf("identifying device: %w", err)
	}
	if details.Role != devices.MemoryRole {
		_ = port.Stop()
		return nil, fmt.Errorf("%s is a %q device, not %q", path, details.Role, devices.MemoryRole)
	}
	return &devices.MemoryDevice{BaseDevice: devices.BaseDevice{Details: details, Port: port}}, nil
}

func runGet() {
	dev, err := openMemoryDevice(*getDevPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer dev.Stop()

	val, err := dev.GetMemory(*getAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("0x%08x = %+v\n", *getAddr, val)
}

func runSet() {
	dev, err := openMemoryDevice(*setDevPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer dev.Stop()

	if err := dev.SetMemory(*setAddr, wire.IntValue(*setVal)); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

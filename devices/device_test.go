package devices

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curative/oatmeal-protocol/oatmeal"
	"github.com/curative/oatmeal-protocol/wire"
)

func fakePort(t *testing.T) (*oatmeal.Port, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
	opts := oatmeal.DefaultPortOptions()
	opts.Routing = oatmeal.RouteDiscard
	opts.StartBackgroundWorker = false
	p, err := oatmeal.NewPort(a, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })
	return p, b
}

func TestMemoryDeviceGetMemory(t *testing.T) {
	port, device := fakePort(t)

	go func() {
		parser := wire.NewParser(0)
		buf := make([]byte, 256)
		n, err := device.Read(buf)
		if err != nil {
			return
		}
		msgs := parser.Write(buf[:n])
		if len(msgs) != 1 {
			return
		}
		tok := msgs[0].Token
		ack, _ := wire.EncodeFrame([4]byte{'M', 'E', 'M', 'A'}, tok, nil)
		_, _ = device.Write(append(ack, '\n'))
		done, _ := wire.EncodeFrame([4]byte{'M', 'E', 'M', 'D'}, tok, []wire.Value{wire.IntValue(99)})
		_, _ = device.Write(append(done, '\n'))
	}()

	mem := &MemoryDevice{BaseDevice{Details: oatmeal.DeviceDetails{Role: MemoryRole}, Port: port}}
	v, err := mem.GetMemory(0x10)
	require.NoError(t, err)
	assert.Equal(t, wire.IntValue(99), v)
}

func TestHaltableReturnsOperationResultWhenNotCancelled(t *testing.T) {
	port, _ := fakePort(t)
	dev := &BaseDevice{Details: oatmeal.DeviceDetails{Role: EchoRole}, Port: port}

	v, err := Haltable(dev, context.Background(), 50*time.Millisecond, func() (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestHaltableHaltsOnCancellation(t *testing.T) {
	port, device := fakePort(t)
	dev := &BaseDevice{Details: oatmeal.DeviceDetails{Role: EchoRole}, Port: port}

	haltSeen := make(chan struct{}, 1)
	go func() {
		parser := wire.NewParser(0)
		buf := make([]byte, 256)
		for {
			n, err := device.Read(buf)
			if err != nil {
				return
			}
			for _, msg := range parser.Write(buf[:n]) {
				if msg.OpcodeString() == "HALR" {
					ack, _ := wire.EncodeFrame([4]byte{'H', 'A', 'L', 'A'}, msg.Token, nil)
					_, _ = device.Write(append(ack, '\n'))
					done, _ := wire.EncodeFrame([4]byte{'H', 'A', 'L', 'D'}, msg.Token, nil)
					_, _ = device.Write(append(done, '\n'))
					haltSeen <- struct{}{}
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	_, err := Haltable(dev, ctx, 200*time.Millisecond, func() (int, error) {
		<-block // never finishes on its own, forcing the halt path
		return 0, nil
	})
	assert.ErrorIs(t, err, oatmeal.ErrInterrupted)

	select {
	case <-haltSeen:
	case <-time.After(time.Second):
		t.Fatal("expected a HALR exchange after cancellation")
	}
}

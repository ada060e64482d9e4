package oatmeal

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curative/oatmeal-protocol/wire"
)

type fakeEnumerator struct{ paths []string }

func (f fakeEnumerator) ListEndpoints() ([]string, error) { return f.paths, nil }

type fakeClass struct{ role string }

func (c fakeClass) Role() string { return c.role }
func (c fakeClass) New(details DeviceDetails, port *Port) Device {
	return &fakeDevice{details: details, port: port}
}

type fakeDevice struct {
	details DeviceDetails
	port    *Port
}

func (d *fakeDevice) Role() string { return d.details.Role }
func (d *fakeDevice) Stop() error  { return d.port.Stop() }

// respondingOpener opens a net.Pipe per path and starts a goroutine on the
// device side that answers DISR with the given role.
func respondingOpener(t *testing.T, roleByPath map[string]string) SerialOpener {
	return func(path string, baud uint) (SerialPort, error) {
		a, b := net.Pipe()
		role, ok := roleByPath[path]
		if !ok {
			_ = a.Close()
			_ = b.Close()
			return nil, assertErr{path}
		}
		go func() {
			parser := wire.NewParser(0)
			buf := make([]byte, 256)
			for {
				n, err := b.Read(buf)
				if err != nil {
					return
				}
				for _, msg := range parser.Write(buf[:n]) {
					args := []wire.Value{
						wire.TextValue(role),
						wire.IntValue(0),
						wire.TextValue("hw-" + role),
						wire.TextValue("1.0"),
					}
					ack, _ := wire.EncodeFrame([4]byte{'D', 'I', 'S', 'A'}, msg.Token, args)
					_, _ = b.Write(append(ack, '\n'))
				}
			}
		}()
		return a, nil
	}
}

type assertErr struct{ path string }

func (e assertErr) Error() string { return "no fake endpoint for " + e.path }

func TestDetectAllBindsKnownRole(t *testing.T) {
	enum := fakeEnumerator{paths: []string{"/dev/ttyUSB0"}}
	opener := respondingOpener(t, map[string]string{"/dev/ttyUSB0": "echo"})

	opts := DefaultDetectOptions()
	opts.ProbeTimeout = 80 * time.Millisecond
	results, err := DetectAll(enum, opener, []DeviceClass{fakeClass{role: "echo"}}, opts)
	require.NoError(t, err)
	require.Len(t, results["echo"], 1)
	assert.Equal(t, "echo", results["echo"][0].Role())
	_ = results["echo"][0].Stop()
}

func TestDetectAllSkipsUnregisteredRole(t *testing.T) {
	enum := fakeEnumerator{paths: []string{"/dev/ttyUSB0"}}
	opener := respondingOpener(t, map[string]string{"/dev/ttyUSB0": "mystery"})

	opts := DefaultDetectOptions()
	opts.ProbeTimeout = 80 * time.Millisecond
	results, err := DetectAll(enum, opener, []DeviceClass{fakeClass{role: "echo"}}, opts)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDetectAllStrictUnknownRoleErrors(t *testing.T) {
	enum := fakeEnumerator{paths: []string{"/dev/ttyUSB0"}}
	opener := respondingOpener(t, map[string]string{"/dev/ttyUSB0": "mystery"})

	opts := DefaultDetectOptions()
	opts.ProbeTimeout = 80 * time.Millisecond
	opts.StrictUnknownRole = true
	_, err := DetectAll(enum, opener, []DeviceClass{fakeClass{role: "echo"}}, opts)
	assert.Error(t, err)
}

func TestFindSingleOfEachRejectsDuplicates(t *testing.T) {
	enum := fakeEnumerator{paths: []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}}
	opener := respondingOpener(t, map[string]string{
		"/dev/ttyUSB0": "echo",
		"/dev/ttyUSB1": "echo",
	})

	opts := DefaultDetectOptions()
	opts.ProbeTimeout = 80 * time.Millisecond
	_, err := FindSingleOfEach(enum, opener, []DeviceClass{fakeClass{role: "echo"}}, opts)
	assert.Error(t, err)
}

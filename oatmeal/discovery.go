package oatmeal

import (
	"fmt"
	"time"
)

// Device is the minimal shape discovery needs from a role-typed device
// handle: enough to catalogue and eventually tear it down. Concrete device
// types (package devices) implement this alongside their domain-specific
// operations.
type Device interface {
	Role() string
	Stop() error
}

// DeviceClass binds a role string to a constructor, so discovery can
// instantiate the right concrete type once it learns a responding
// endpoint's role.
type DeviceClass interface {
	Role() string
	New(details DeviceDetails, port *Port) Device
}

// SerialOpener opens a named endpoint at baud, the same shape as
// NewSerialEndpoint — discovery takes it as a parameter so tests can supply
// a fake without touching a real serial driver.
type SerialOpener func(path string, baud uint) (SerialPort, error)

// DetectOptions configures a discovery pass.
type DetectOptions struct {
	Fast              bool // prioritise usb/tty paths and stop once every role is found
	Baud              uint
	ProbeTimeout      time.Duration
	ProbeRetries      int
	StrictUnknownRole bool // raise ConfigError instead of skipping an unregistered role
}

// DefaultDetectOptions mirrors the original discovery layer's short,
// single-retry probe budget: boards are expected to answer DISR promptly.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		Baud:         115200,
		ProbeTimeout: 200 * time.Millisecond,
		ProbeRetries: 1,
	}
}

func transientPortOptions() PortOptions {
	opts := DefaultPortOptions()
	opts.Routing = RouteDiscard
	opts.StartBackgroundWorker = false
	return opts
}

// DetectAll enumerates candidate endpoints via enum, probes each with DISR,
// and binds responding endpoints to the DeviceClass registered for the
// reported role. Unrecognised roles are skipped unless opts.StrictUnknownRole.
func DetectAll(enum EndpointEnumerator, opener SerialOpener, classes []DeviceClass, opts DetectOptions) (map[string][]Device, error) {
	paths, err := enum.ListEndpoints()
	if err != nil {
		return nil, err
	}
	if opts.Fast {
		paths = prioritizeEndpoint(paths)
	}

	registry := make(map[string]DeviceClass, len(classes))
	wantRoles := make(map[string]bool, len(classes))
	for _, c := range classes {
		registry[c.Role()] = c
		wantRoles[c.Role()] = true
	}

	results := map[string][]Device{}
	for _, path := range paths {
		details, ok := probe(path, opener, opts)
		if !ok {
			continue
		}
		class, known := registry[details.Role]
		if !known {
			if opts.StrictUnknownRole {
				return nil, &ConfigError{Msg: fmt.Sprintf("no device class registered for role %q (endpoint %s)", details.Role, path)}
			}
			continue
		}

		permPhy, err := opener(path, opts.Baud)
		if err != nil {
			continue
		}
		permPort, err := NewPort(permPhy, DefaultPortOptions())
		if err != nil {
			_ = permPhy.Close()
			continue
		}
		results[details.Role] = append(results[details.Role], class.New(details, permPort))

		if opts.Fast && allRolesFound(results, wantRoles) {
			break
		}
	}
	return results, nil
}

// probe opens path transiently, sends DISR and reports the device's
// details, or ok=false on any OS or protocol failure (skip, don't abort the
// whole scan).
func probe(path string, opener SerialOpener, opts DetectOptions) (DeviceDetails, bool) {
	phy, err := opener(path, opts.Baud)
	if err != nil {
		return DeviceDetails{}, false
	}
	port, err := NewPort(phy, transientPortOptions())
	if err != nil {
		_ = phy.Close()
		return DeviceDetails{}, false
	}
	defer port.Stop()

	details, err := port.AskWho(opts.ProbeTimeout, opts.ProbeRetries)
	if err != nil {
		return DeviceDetails{}, false
	}
	return details, true
}

func allRolesFound(results map[string][]Device, wantRoles map[string]bool) bool {
	for role := range wantRoles {
		if len(results[role]) == 0 {
			return false
		}
	}
	return true
}

// FindAll is an alias for DetectAll.
func FindAll(enum EndpointEnumerator, opener SerialOpener, classes []DeviceClass, opts DetectOptions) (map[string][]Device, error) {
	return DetectAll(enum, opener, classes, opts)
}

// FindSingleOfEach requires exactly one device per requested role and
// returns the flattened role -> Device map. Zero or more than one match for
// any role is a ConfigError.
func FindSingleOfEach(enum EndpointEnumerator, opener SerialOpener, classes []DeviceClass, opts DetectOptions) (map[string]Device, error) {
	results, err := DetectAll(enum, opener, classes, opts)
	if err != nil {
		return nil, err
	}
	single := make(map[string]Device, len(results))
	for role, devs := range results {
		if len(devs) != 1 {
			return nil, &ConfigError{Msg: fmt.Sprintf("expected exactly one device of role %q, found %d", role, len(devs))}
		}
		single[role] = devs[0]
	}
	for _, c := range classes {
		if _, ok := single[c.Role()]; !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("no device of role %q found", c.Role())}
		}
	}
	return single, nil
}

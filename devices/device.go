// Package devices provides thin, role-typed wrappers around an
// *oatmeal.Port: the device-handle layer callers actually program against,
// built on top of the port's send/ack/done primitives.
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/curative/oatmeal-protocol/oatmeal"
	"github.com/curative/oatmeal-protocol/wire"
)

// Default exchange timeouts, ported from the original implementation's
// DEFAULT_ACK_TIMEOUT_SEC / DEFAULT_DONE_TIMEOUT_SEC / DEFAULT_N_RETRIES.
const (
	DefaultAckTimeout  = 500 * time.Millisecond
	DefaultDoneTimeout = 1 * time.Second
	DefaultRetries     = 3
)

// BaseDevice is embedded by every concrete device type. It owns the port
// and exposes the operations the spec assigns to the device-handle layer,
// delegating to the port for everything wire-shaped.
type BaseDevice struct {
	Details oatmeal.DeviceDetails
	Port    *oatmeal.Port
}

func (d *BaseDevice) Role() string { return d.Details.Role }

// Stop tears down the underlying port. Idempotent (the port itself is).
func (d *BaseDevice) Stop() error { return d.Port.Stop() }

func (d *BaseDevice) Send(msg wire.Message) error { return d.Port.Send(&msg) }

func (d *BaseDevice) SendAndAck(msg wire.Message, ackOpcode *[4]byte, timeout time.Duration, retries int) (wire.Message, error) {
	return d.Port.SendAndAck(msg, ackOpcode, timeout, retries)
}

func (d *BaseDevice) SendAndDone(msg wire.Message, ackOpcode, doneOpcode *[4]byte, ackTimeout, doneTimeout time.Duration, retries int) (wire.Message, wire.Message, error) {
	return d.Port.SendAndDone(msg, ackOpcode, doneOpcode, ackTimeout, doneTimeout, retries)
}

func (d *BaseDevice) Read(timeout time.Duration) (wire.Message, error) { return d.Port.Read(timeout) }
func (d *BaseDevice) TryRead(timeout time.Duration) (wire.Message, bool) {
	return d.Port.TryRead(timeout)
}
func (d *BaseDevice) Flush() { d.Port.Flush() }

func (d *BaseDevice) AskWho(timeout time.Duration, retries int) (oatmeal.DeviceDetails, error) {
	return d.Port.AskWho(timeout, retries)
}

func (d *BaseDevice) ToggleHeartbeats(expect bool, timeout time.Duration) error {
	return d.Port.SetHeartbeatExpectation(expect, timeout, DefaultRetries)
}

// Halt runs the HALR/HALA/HALD exchange: ask the device to abandon its
// current operation and confirm completion.
func (d *BaseDevice) Halt(timeout time.Duration) error {
	_, _, err := d.Port.SendAndDone(
		wire.Message{Opcode: [4]byte{'H', 'A', 'L', 'R'}},
		nil, nil, timeout, timeout, 1,
	)
	return err
}

// Haltable runs op to completion, unless ctx is cancelled first, in which
// case it sends a halt exchange on dev and returns ctx's error wrapped in
// ErrInterrupted. It is the Go shape of the original implementation's
// haltable decorator: instead of a signal handler unwinding a Python call
// stack, a context cancellation here races the operation's result channel.
func Haltable[T any](dev *BaseDevice, ctx context.Context, haltTimeout time.Duration, op func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op()
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		_ = dev.Halt(haltTimeout)
		return zero, fmt.Errorf("%w: %w", oatmeal.ErrInterrupted, ctx.Err())
	}
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameEmptyArgs(t *testing.T) {
	frame, err := EncodeFrame([4]byte{'D', 'I', 'S', 'R'}, [2]byte{'X', 'Y'}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<DISRXY>i_", string(frame))
}

func TestEncodeFrameWithArgs(t *testing.T) {
	frame, err := EncodeFrame([4]byte{'R', 'U', 'N', 'R'}, [2]byte{'a', 'a'}, []Value{
		FloatValue(1.23),
		BoolValue(true),
		TextValue("Hi!"),
		ListValue([]Value{IntValue(1), IntValue(2)}),
	})
	require.NoError(t, err)
	assert.Equal(t, `<RUNRaa1.23,T,"Hi!",[1,2]>-b`, string(frame))
}

func TestEncodeFrameXYZA(t *testing.T) {
	frame, err := EncodeFrame([4]byte{'X', 'Y', 'Z', 'A'}, [2]byte{'z', 'Z'}, []Value{
		IntValue(101),
		ListValue([]Value{IntValue(0), IntValue(42)}),
	})
	require.NoError(t, err)
	assert.Equal(t, "<XYZAzZ101,[0,42]>SH", string(frame))
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	const raw = `<HRTBVU{a=5.1,avail_kb=247,b="hi",loop_ms=1,uptime=16}>BH`
	msg, err := DecodeFrame([]byte(raw), ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, "HRTB", msg.OpcodeString())
	assert.Equal(t, "VU", msg.TokenString())
	assert.True(t, msg.IsBackground())

	require.Len(t, msg.Args, 1)
	v, ok := msg.Args[0].Lookup("a")
	require.True(t, ok)
	assert.Equal(t, FloatValue(5.1), v)

	reenc, err := EncodeFrame(msg.Opcode, msg.Token, msg.Args)
	require.NoError(t, err)
	assert.Equal(t, raw, string(reenc))
}

func TestDecodeFrameBadChecksum(t *testing.T) {
	frame, err := EncodeFrame([4]byte{'D', 'I', 'S', 'R'}, [2]byte{'X', 'Y'}, nil)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF
	_, err = DecodeFrame(frame, ParseStrict)
	assert.Error(t, err)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame([]byte("<DI>abc"), ParseStrict)
	assert.Error(t, err)
}

func TestCommandAndFlag(t *testing.T) {
	msg := Message{Opcode: [4]byte{'H', 'R', 'T', 'B'}}
	assert.Equal(t, "HRT", msg.Command())
	assert.Equal(t, byte('B'), msg.Flag())
}

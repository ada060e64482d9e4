package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeStr(t *testing.T, v Value) string {
	t.Helper()
	b, err := Encode(nil, v)
	require.NoError(t, err)
	return string(b)
}

func TestEncodeScalars(t *testing.T) {
	assert.Equal(t, "42", encodeStr(t, IntValue(42)))
	assert.Equal(t, "-7", encodeStr(t, IntValue(-7)))
	assert.Equal(t, "1.23", encodeStr(t, FloatValue(1.23)))
	assert.Equal(t, "T", encodeStr(t, BoolValue(true)))
	assert.Equal(t, "F", encodeStr(t, BoolValue(false)))
	assert.Equal(t, "N", encodeStr(t, NullValue()))
	assert.Equal(t, `"Hi!"`, encodeStr(t, TextValue("Hi!")))
	assert.Equal(t, `0"ab"`, encodeStr(t, BlobValue([]byte("ab"))))
}

func TestEncodeListAndDict(t *testing.T) {
	assert.Equal(t, "[1,2]", encodeStr(t, ListValue([]Value{IntValue(1), IntValue(2)})))

	d, err := DictValue([]DictEntry{
		{Key: "b", Val: IntValue(2)},
		{Key: "a", Val: IntValue(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, "{a=1,b=2}", encodeStr(t, d))
}

func TestDictRejectsDuplicateAndBadKeys(t *testing.T) {
	_, err := DictValue([]DictEntry{{Key: "a", Val: IntValue(1)}, {Key: "a", Val: IntValue(2)}})
	assert.Error(t, err)

	_, err = DictValue([]DictEntry{{Key: "bad key", Val: IntValue(1)}})
	assert.Error(t, err)
}

func TestEscaping(t *testing.T) {
	v := TextValue("a\\b\"c<d>e\nf\rg\x00h")
	enc := encodeStr(t, v)
	assert.Equal(t, `"a\\b\"c\(d\)e\nf\rg\0h"`, enc)

	parsed, n, err := ParseValue([]byte(enc), ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, len(enc), n)
	assert.Equal(t, v, parsed)
}

func TestParseScalarPriority(t *testing.T) {
	v, _, err := ParseValue([]byte("101"), ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, IntValue(101), v)

	v, _, err = ParseValue([]byte("1.23"), ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, FloatValue(1.23), v)
}

func TestParseUnquotedStringFallback(t *testing.T) {
	_, _, err := ParseValue([]byte("hello"), ParseStrict)
	assert.Error(t, err)

	v, n, err := ParseValue([]byte("hello"), ParsePermissive)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, TextValue("hello"), v)
}

func TestParseArgsFailureSet(t *testing.T) {
	cases := []string{
		"[", "]", "1,", "[,2]", "[4,5,]", "[1,2]]", "[[1,2]",
		"1,,3", "[1]3", ",]", "{123}", "{a=1,b=2,}", `{"a"=1}`,
	}
	for _, c := range cases {
		c := c
		t.Run(c, func(t *testing.T) {
			_, err := ParseArgs([]byte(c), ParseStrict)
			assert.Error(t, err, "expected ParseError for %q", c)
		})
	}
}

func TestRoundTripHeartbeatDict(t *testing.T) {
	d, err := DictValue([]DictEntry{
		{Key: "a", Val: FloatValue(5.1)},
		{Key: "avail_kb", Val: IntValue(247)},
		{Key: "b", Val: TextValue("hi")},
		{Key: "loop_ms", Val: IntValue(1)},
		{Key: "uptime", Val: IntValue(16)},
	})
	require.NoError(t, err)
	want := `{a=5.1,avail_kb=247,b="hi",loop_ms=1,uptime=16}`
	assert.Equal(t, want, encodeStr(t, d))

	parsed, n, err := ParseValue([]byte(want), ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)
	assert.Equal(t, d, parsed)
}

func TestListRoundTripExample(t *testing.T) {
	args := []Value{
		FloatValue(1.23),
		BoolValue(true),
		TextValue("Hi!"),
		ListValue([]Value{IntValue(1), IntValue(2)}),
	}
	enc, err := EncodeArgs(args)
	require.NoError(t, err)
	assert.Equal(t, `1.23,T,"Hi!",[1,2]`, string(enc))

	parsed, err := ParseArgs(enc, ParseStrict)
	require.NoError(t, err)
	assert.Equal(t, args, parsed)
}

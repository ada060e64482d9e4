// Package wire implements the Oatmeal value codec, frame codec and the
// streaming frame parser. It has no knowledge of serial ports, goroutines or
// devices — just bytes in, bytes out.
package wire

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindBool
	KindNull
	KindText
	KindBlob
	KindList
	KindDict
)

// DictEntry is one key/value pair of a Dict-kind Value. Dicts are carried as
// a slice, not a map, so that wire order (ascending key) is part of the
// value's representation rather than something recomputed from
// non-deterministic map iteration on every encode.
type DictEntry struct {
	Key string
	Val Value
}

// Value is the tagged union described by the wire grammar: int, float, bool,
// null, text, blob, list or dict. Only the fields matching Kind are
// meaningful.
type Value struct {
	Kind ValueKind
	I    int64
	F    float64
	B    bool
	S    string // Text or Blob payload
	List []Value
	Dict []DictEntry
}

var dictKeyRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsValidDictKey reports whether key is non-empty and drawn from
// [A-Za-z0-9_]+, the character class the dictionary grammar requires.
func IsValidDictKey(key string) bool {
	return key != "" && dictKeyRe.MatchString(key)
}

func IntValue(i int64) Value   { return Value{Kind: KindInt, I: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, F: f} }
func BoolValue(b bool) Value   { return Value{Kind: KindBool, B: b} }
func NullValue() Value         { return Value{Kind: KindNull} }
func TextValue(s string) Value { return Value{Kind: KindText, S: s} }
func BlobValue(b []byte) Value { return Value{Kind: KindBlob, S: string(b)} }
func ListValue(vs []Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{Kind: KindList, List: cp}
}

// DictValue builds a dict Value from entries, validating key charset and
// uniqueness and sorting ascending by key so the result's wire
// representation is deterministic regardless of the order entries were
// supplied in.
func DictValue(entries []DictEntry) (Value, error) {
	cp := make([]DictEntry, len(entries))
	copy(cp, entries)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Key < cp[j].Key })
	for i, e := range cp {
		if !IsValidDictKey(e.Key) {
			return Value{}, &ParseError{Msg: fmt.Sprintf("invalid dict key %q", e.Key)}
		}
		if i > 0 && cp[i-1].Key == e.Key {
			return Value{}, &ParseError{Msg: fmt.Sprintf("duplicate dict key %q", e.Key)}
		}
	}
	return Value{Kind: KindDict, Dict: cp}, nil
}

// Blob returns the raw bytes of a Blob-kind Value.
func (v Value) Blob() []byte { return []byte(v.S) }

// Lookup returns the value stored under key in a Dict-kind Value.
func (v Value) Lookup(key string) (Value, bool) {
	for _, e := range v.Dict {
		if e.Key == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

var escapeOut = map[byte]string{
	'\\': `\\`,
	'"':  `\"`,
	'<':  `\(`,
	'>':  `\)`,
	'\n': `\n`,
	'\r': `\r`,
	0:    `\0`,
}

var escapeIn = map[byte]byte{
	'\\': '\\',
	'"':  '"',
	'(':  '<',
	')':  '>',
	'n':  '\n',
	'r':  '\r',
	'0':  0,
}

// Encode appends the wire representation of v to buf and returns the
// extended slice. It returns an error if v (or a value nested inside it)
// fails the type/charset checks the grammar requires.
func Encode(buf []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return strconv.AppendInt(buf, v.I, 10), nil
	case KindFloat:
		return append(buf, formatFloat(v.F)...), nil
	case KindBool:
		if v.B {
			return append(buf, 'T'), nil
		}
		return append(buf, 'F'), nil
	case KindNull:
		return append(buf, 'N'), nil
	case KindText:
		buf = append(buf, '"')
		buf = appendEscaped(buf, v.S)
		return append(buf, '"'), nil
	case KindBlob:
		buf = append(buf, '0', '"')
		buf = appendEscaped(buf, v.S)
		return append(buf, '"'), nil
	case KindList:
		buf = append(buf, '[')
		for i, e := range v.List {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = Encode(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case KindDict:
		buf = append(buf, '{')
		for i, e := range v.Dict {
			if !IsValidDictKey(e.Key) {
				return nil, &ParseError{Msg: fmt.Sprintf("invalid dict key %q", e.Key)}
			}
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, e.Key...)
			buf = append(buf, '=')
			var err error
			buf, err = Encode(buf, e.Val)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, &ParseError{Msg: "unknown value kind"}
	}
}

// formatFloat renders f with 6 significant figures, locale-independent, as
// the wire contract requires. Encoders must never emit higher precision —
// the content checkbyte depends on the exact bytes.
func formatFloat(f float64) string {
	return fmt.Sprintf("%.6g", f)
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if esc, ok := escapeOut[c]; ok {
			buf = append(buf, esc...)
			continue
		}
		buf = append(buf, c)
	}
	return buf
}

// ParseMode controls the scalar parser's tolerance for the unquoted-string
// fallback described in the wire grammar's open question. New encoders never
// emit it; ParseStrict rejects it on decode.
type ParseMode int

const (
	ParseStrict ParseMode = iota
	ParsePermissive
)

// ParseValue decodes a single Value starting at buf[0] and returns it along
// with the number of bytes consumed.
func ParseValue(buf []byte, mode ParseMode) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, &ParseError{Msg: "empty value"}
	}
	switch buf[0] {
	case '"':
		return parseQuoted(buf, false)
	case '0':
		if len(buf) > 1 && buf[1] == '"' {
			v, n, err := parseQuoted(buf[1:], true)
			return v, n + 1, err
		}
		return parseScalar(buf, mode)
	case '[':
		return parseList(buf, mode)
	case '{':
		return parseDict(buf, mode)
	default:
		return parseScalar(buf, mode)
	}
}

// scalarEnd finds the index of the next top-level terminator (',', ']' or
// '}') in buf, or len(buf) if none is present.
func scalarEnd(buf []byte) int {
	for i, c := range buf {
		if c == ',' || c == ']' || c == '}' {
			return i
		}
	}
	return len(buf)
}

func parseScalar(buf []byte, mode ParseMode) (Value, int, error) {
	end := scalarEnd(buf)
	if end == 0 {
		return Value{}, 0, &ParseError{Msg: "empty scalar token"}
	}
	tok := string(buf[:end])
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return IntValue(i), end, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return FloatValue(f), end, nil
	}
	switch tok {
	case "T":
		return BoolValue(true), end, nil
	case "F":
		return BoolValue(false), end, nil
	case "N":
		return NullValue(), end, nil
	}
	if mode == ParsePermissive {
		return TextValue(tok), end, nil
	}
	return Value{}, 0, &ParseError{Msg: fmt.Sprintf("unrecognised scalar %q", tok)}
}

// parseQuoted parses a "…"-delimited run starting at buf[0]=='"'. If blob is
// true the caller has already consumed the leading '0' and n is reported
// relative to the quote, not the '0'.
func parseQuoted(buf []byte, blob bool) (Value, int, error) {
	var sb strings.Builder
	i := 1
	for {
		if i >= len(buf) {
			return Value{}, 0, &ParseError{Msg: "unterminated quoted value"}
		}
		c := buf[i]
		if c == '"' {
			i++
			break
		}
		if c == 0 {
			return Value{}, 0, &ParseError{Msg: "illegal NUL byte in quoted value"}
		}
		if c == '\\' {
			i++
			if i >= len(buf) {
				return Value{}, 0, &ParseError{Msg: "truncated escape sequence"}
			}
			mapped, ok := escapeIn[buf[i]]
			if !ok {
				return Value{}, 0, &ParseError{Msg: fmt.Sprintf("unknown escape %q", buf[i])}
			}
			sb.WriteByte(mapped)
			i++
			continue
		}
		sb.WriteByte(c)
		i++
	}
	if blob {
		return BlobValue([]byte(sb.String())), i, nil
	}
	return TextValue(sb.String()), i, nil
}

func parseList(buf []byte, mode ParseMode) (Value, int, error) {
	i := 1 // skip '['
	var items []Value
	if i < len(buf) && buf[i] == ']' {
		return ListValue(nil), i + 1, nil
	}
	for {
		if i >= len(buf) {
			return Value{}, 0, &ParseError{Msg: "unterminated list"}
		}
		v, n, err := ParseValue(buf[i:], mode)
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, v)
		i += n
		if i >= len(buf) {
			return Value{}, 0, &ParseError{Msg: "unterminated list"}
		}
		switch buf[i] {
		case ',':
			i++
			continue
		case ']':
			return ListValue(items), i + 1, nil
		default:
			return Value{}, 0, &ParseError{Msg: fmt.Sprintf("unexpected byte %q in list", buf[i])}
		}
	}
}

func parseDict(buf []byte, mode ParseMode) (Value, int, error) {
	i := 1 // skip '{'
	var entries []DictEntry
	if i < len(buf) && buf[i] == '}' {
		return Value{Kind: KindDict}, i + 1, nil
	}
	for {
		if i >= len(buf) {
			return Value{}, 0, &ParseError{Msg: "unterminated dict"}
		}
		keyEnd := -1
		for j := i; j < len(buf); j++ {
			if buf[j] == '=' {
				keyEnd = j
				break
			}
			if buf[j] == ',' || buf[j] == '}' {
				break
			}
		}
		if keyEnd < 0 {
			return Value{}, 0, &ParseError{Msg: "dict entry missing '='"}
		}
		key := string(buf[i:keyEnd])
		if !IsValidDictKey(key) {
			return Value{}, 0, &ParseError{Msg: fmt.Sprintf("invalid dict key %q", key)}
		}
		v, n, err := ParseValue(buf[keyEnd+1:], mode)
		if err != nil {
			return Value{}, 0, err
		}
		entries = append(entries, DictEntry{Key: key, Val: v})
		i = keyEnd + 1 + n
		if i >= len(buf) {
			return Value{}, 0, &ParseError{Msg: "unterminated dict"}
		}
		switch buf[i] {
		case ',':
			i++
			continue
		case '}':
			i++
			dv, err := DictValue(entries)
			if err != nil {
				return Value{}, 0, err
			}
			return dv, i, nil
		default:
			return Value{}, 0, &ParseError{Msg: fmt.Sprintf("unexpected byte %q in dict", buf[i])}
		}
	}
}

// ParseArgs decodes a full comma-separated top-level argument list (the
// bytes between a frame's token and its closing '>'). Surplus trailing bytes
// after the last argument are a parse error.
func ParseArgs(buf []byte, mode ParseMode) ([]Value, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	var args []Value
	i := 0
	for {
		v, n, err := ParseValue(buf[i:], mode)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		i += n
		if i == len(buf) {
			return args, nil
		}
		if buf[i] != ',' {
			return nil, &ParseError{Msg: fmt.Sprintf("unexpected byte %q after argument", buf[i])}
		}
		i++
		if i == len(buf) {
			return nil, &ParseError{Msg: "trailing comma in argument list"}
		}
	}
}

// EncodeArgs renders args as the comma-joined byte sequence placed between a
// frame's token and its closing '>'.
func EncodeArgs(args []Value) ([]byte, error) {
	var buf []byte
	for i, a := range args {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = Encode(buf, a)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

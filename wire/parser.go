package wire

// parseState is the frame parser's position in the four-state machine.
type parseState int

const (
	waitStart parseState = iota
	waitEnd
	waitLen
	waitChk
)

const (
	defaultSoftMax = 512
)

// PortStats are observability counters updated only from the parser's
// driving goroutine. Concurrent reads may see slightly stale values; that is
// acceptable.
type PortStats struct {
	TooShort      uint64
	TooLong       uint64
	MissingStart  uint64
	MissingEnd    uint64
	InvalidByte   uint64
	BadChecksum   uint64
	OtherParseErr uint64
	GoodFrames    uint64
}

// Parser is the byte-driven frame state machine. It is not safe for
// concurrent use; one goroutine feeds it bytes.
type Parser struct {
	state   parseState
	buf     []byte
	softMax int
	hardMax int
	mode    ParseMode
	stats   PortStats
}

// NewParser returns a Parser with the given soft length bound (hard bound is
// always 2x soft). softMax <= 0 selects the default of 512.
func NewParser(softMax int) *Parser {
	if softMax <= 0 {
		softMax = defaultSoftMax
	}
	return &Parser{
		state:   waitStart,
		softMax: softMax,
		hardMax: softMax * 2,
		mode:    ParseStrict,
	}
}

// SetParseMode controls the scalar fallback used when decoding frame
// arguments.
func (p *Parser) SetParseMode(mode ParseMode) { p.mode = mode }

// Stats returns a snapshot of the parser's running counters.
func (p *Parser) Stats() PortStats { return p.stats }

func (p *Parser) resetToStart() {
	p.buf = p.buf[:0]
	p.state = waitStart
}

// Feed advances the state machine by one byte. It returns the decoded
// message and true if b completed a valid frame.
func (p *Parser) Feed(b byte) (Message, bool) {
	switch p.state {
	case waitStart:
		switch {
		case b == startByte:
			p.buf = append(p.buf[:0], b)
			p.state = waitEnd
		case b == endByte:
			p.stats.MissingStart++
		case b == 0:
			p.stats.InvalidByte++
		}
		return Message{}, false

	case waitEnd:
		switch {
		case b == startByte:
			p.stats.MissingEnd++
			p.buf = append(p.buf[:0], b)
			// stay in waitEnd
		case b == endByte:
			p.buf = append(p.buf, b)
			p.state = waitLen
		case b == 0:
			p.buf = p.buf[:0]
			p.stats.InvalidByte++
			p.state = waitStart
		default:
			p.buf = append(p.buf, b)
			if len(p.buf) > p.hardMax {
				p.stats.TooLong++
				p.resetToStart()
			}
		}
		return Message{}, false

	case waitLen:
		p.buf = append(p.buf, b)
		p.state = waitChk
		return Message{}, false

	case waitChk:
		p.buf = append(p.buf, b)
		frame := p.buf
		msg, ok := p.validate(frame)
		p.resetToStart()
		return msg, ok

	default:
		p.resetToStart()
		return Message{}, false
	}
}

// Write feeds an entire byte slice through the state machine and returns
// every message completed along the way, in arrival order.
func (p *Parser) Write(buf []byte) []Message {
	var out []Message
	for _, b := range buf {
		if msg, ok := p.Feed(b); ok {
			out = append(out, msg)
		}
	}
	return out
}

// validate runs the completion-validation sequence from shortest failure to
// longest, counting each outcome in stats.
func (p *Parser) validate(frame []byte) (Message, bool) {
	if len(frame) < minFrameLen {
		p.stats.TooShort++
		return Message{}, false
	}
	if len(frame) > p.hardMax {
		p.stats.TooLong++
		return Message{}, false
	}
	if frame[0] != startByte {
		p.stats.MissingStart++
		return Message{}, false
	}
	if frame[len(frame)-3] != endByte {
		p.stats.MissingEnd++
		return Message{}, false
	}
	// Frames over soft_max but within hard_max are still parsed; a caller
	// wanting the warning can compare length against soft_max itself.
	_ = p.softMax

	wantLen := asciiCheckbyte(len(frame) * 7)
	if frame[len(frame)-2] != wantLen {
		p.stats.BadChecksum++
		return Message{}, false
	}
	wantChk := asciiCheckbyte(int(rollingHash(frame[:len(frame)-1])))
	if frame[len(frame)-1] != wantChk {
		p.stats.BadChecksum++
		return Message{}, false
	}

	msg, err := decodeValidatedFrame(frame, p.mode)
	if err != nil {
		p.stats.OtherParseErr++
		return Message{}, false
	}
	p.stats.GoodFrames++
	return msg, true
}

// decodeValidatedFrame decodes a frame whose length, delimiters and
// checkbytes the caller has already confirmed.
func decodeValidatedFrame(frame []byte, mode ParseMode) (Message, error) {
	var msg Message
	copy(msg.Opcode[:], frame[1:5])
	copy(msg.Token[:], frame[5:7])
	msg.Assigned = true
	if err := validOpcode(msg.Opcode); err != nil {
		return Message{}, err
	}
	if err := validToken(msg.Token); err != nil {
		return Message{}, err
	}
	args, err := ParseArgs(frame[7:len(frame)-3], mode)
	if err != nil {
		return Message{}, err
	}
	msg.Args = args
	return msg, nil
}

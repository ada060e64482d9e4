package oatmeal

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/curative/oatmeal-protocol/wire"
)

// BgRouting selects where background (flag=='B') messages are delivered.
type BgRouting int

const (
	RouteKeep     BgRouting = iota // deliver background messages to the foreground channel too
	RouteSeparate                  // deliver to a distinct background channel
	RouteDiscard                   // drop background messages silently
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const tokenSpace = len(tokenAlphabet) * len(tokenAlphabet) // 2704

// PortOptions configures a Port at construction time. Zero-value fields fall
// back to DefaultPortOptions's values where that makes sense; callers
// normally start from DefaultPortOptions() and override what they need.
type PortOptions struct {
	SoftMax               int
	ParseMode             wire.ParseMode
	Routing               BgRouting
	BgHandler             BgHandler
	StartBackgroundWorker bool // only meaningful when Routing == RouteSeparate
	DataMirror            DataMirror
	WriteTimeout          time.Duration // stored only; the writer goroutine does not apply it, and writes block until the endpoint accepts them
	MaxHeartbeatGap       time.Duration
	FGBufferSize          int
	BGBufferSize          int
}

// DefaultPortOptions returns sane defaults: strict parsing, separate
// background routing with an automatically-started worker (logging through
// a LogrusBgHandler), a 5s heartbeat gap (matching the original
// implementation's MAX_HEARTBEAT_GAP_SEC) and a 2s write timeout.
func DefaultPortOptions() PortOptions {
	return PortOptions{
		SoftMax:               0, // wire.NewParser interprets <=0 as its own default
		ParseMode:             wire.ParseStrict,
		Routing:               RouteSeparate,
		BgHandler:             NewLogrusBgHandler(nil),
		StartBackgroundWorker: true,
		WriteTimeout:          2 * time.Second,
		MaxHeartbeatGap:       5 * time.Second,
		FGBufferSize:          32,
		BGBufferSize:          32,
	}
}

// Port is the concurrent request/response engine: one reader goroutine owns
// the serial endpoint for reads and drives the frame parser, one writer
// goroutine owns it for writes, and an optional background goroutine
// dispatches background messages to a BgHandler and watches for missing
// heartbeats. Public methods are synchronous from the caller's perspective;
// concurrent callers must serialise their own exchanges against a given
// Port (see the concurrency model).
type Port struct {
	phy     SerialPort
	opts    PortOptions
	mirror  DataMirror
	outbound chan []byte
	fg      chan wire.Message
	bg      chan wire.Message
	stopCh  chan struct{}
	stopOnce sync.Once
	wg      sync.WaitGroup

	tokenMu  sync.Mutex
	tokenNum uint16

	statsMu sync.Mutex
	stats   wire.PortStats

	missedAcksMu sync.Mutex
	missedAcks   uint64

	hbMu             sync.Mutex
	expectHeartbeats bool
	lastHeartbeat    time.Time
	missingHBFired   bool

	linkErrOnce sync.Once
	linkErr     error
}

// NewPort constructs a Port around phy and starts its reader and writer
// goroutines (and, if configured, its background goroutine). The caller
// must eventually call Stop.
func NewPort(phy SerialPort, opts PortOptions) (*Port, error) {
	seed, err := rand.Int(rand.Reader, big.NewInt(int64(tokenSpace)))
	if err != nil {
		return nil, fmt.Errorf("oatmeal: seeding token counter: %w", err)
	}

	if opts.FGBufferSize <= 0 {
		opts.FGBufferSize = 32
	}
	if opts.BGBufferSize <= 0 {
		opts.BGBufferSize = 32
	}
	if opts.MaxHeartbeatGap <= 0 {
		opts.MaxHeartbeatGap = 5 * time.Second
	}

	p := &Port{
		phy:      phy,
		opts:     opts,
		mirror:   opts.DataMirror,
		outbound: make(chan []byte, 8),
		fg:       make(chan wire.Message, opts.FGBufferSize),
		bg:       make(chan wire.Message, opts.BGBufferSize),
		stopCh:   make(chan struct{}),
		tokenNum: uint16(seed.Int64()),
	}

	p.wg.Add(2)
	go p.runReader()
	go p.runWriter()

	if opts.Routing == RouteSeparate && opts.StartBackgroundWorker && opts.BgHandler != nil {
		p.wg.Add(1)
		go p.runBackground()
	}

	return p, nil
}

// Stats returns a snapshot of the frame parser's running counters.
func (p *Port) Stats() wire.PortStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// MissedAcks returns how many ACK attempts have timed out so far, including
// a final attempt that was not retried (scenario: n_missed_acks in the wire
// spec's testable properties).
func (p *Port) MissedAcks() uint64 {
	p.missedAcksMu.Lock()
	defer p.missedAcksMu.Unlock()
	return p.missedAcks
}

func (p *Port) incMissedAcks() {
	p.missedAcksMu.Lock()
	p.missedAcks++
	p.missedAcksMu.Unlock()
}

// setLinkErr records the first link failure observed by either goroutine
// and signals stop.
func (p *Port) setLinkErr(op string, err error) {
	p.linkErrOnce.Do(func() {
		p.linkErr = &LinkError{Op: op, Err: err}
		p.signalStop()
	})
}

func (p *Port) signalStop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// runReader owns phy for reads, drives the frame parser and routes decoded
// messages to the foreground or background channel per Routing.
func (p *Port) runReader() {
	defer p.wg.Done()
	parser := wire.NewParser(p.opts.SoftMax)
	parser.SetParseMode(p.opts.ParseMode)

	buf := make([]byte, 4096)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		n, err := p.phy.Read(buf)
		if err != nil {
			p.setLinkErr("read", err)
			return
		}
		if n == 0 {
			continue
		}
		chunk := buf[:n]
		if p.mirror != nil {
			p.mirror.OnIncoming(chunk)
		}
		msgs := parser.Write(chunk)

		p.statsMu.Lock()
		p.stats = parser.Stats()
		p.statsMu.Unlock()

		for _, msg := range msgs {
			p.route(msg)
		}
	}
}

func (p *Port) route(msg wire.Message) {
	if !msg.IsBackground() {
		select {
		case p.fg <- msg:
		case <-p.stopCh:
		}
		return
	}
	switch p.opts.Routing {
	case RouteKeep:
		select {
		case p.fg <- msg:
		case <-p.stopCh:
		}
	case RouteSeparate:
		select {
		case p.bg <- msg:
		case <-p.stopCh:
		}
	case RouteDiscard:
		// dropped
	}
}

// runWriter owns phy for writes, draining the outbound queue in submission
// order.
func (p *Port) runWriter() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.outbound:
			out := append(frame, '\n')
			if p.mirror != nil {
				p.mirror.OnOutgoing(out)
			}
			if _, err := p.phy.Write(out); err != nil {
				p.setLinkErr("write", err)
				return
			}
		}
	}
}

// runBackground consumes the background channel, dispatches HRTB/LOGB/misc
// traffic to the configured BgHandler, and watches for missing heartbeats.
func (p *Port) runBackground() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.MaxHeartbeatGap / 4)
	defer ticker.Stop()
	h := p.opts.BgHandler

	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.bg:
			p.dispatchBackground(h, msg)
		case <-ticker.C:
			p.checkMissingHeartbeat(h)
		}
	}
}

func (p *Port) dispatchBackground(h BgHandler, msg wire.Message) {
	switch msg.OpcodeString() {
	case "HRTB":
		payload, ok := msg.HeartbeatPayload()
		p.hbMu.Lock()
		p.lastHeartbeat = time.Now()
		p.missingHBFired = false
		p.hbMu.Unlock()
		if !ok {
			payload = wire.NullValue()
		}
		h.HandleHeartbeat(payload)
	case "LOGB":
		if len(msg.Args) == 2 && msg.Args[0].Kind == wire.KindText && msg.Args[1].Kind == wire.KindText {
			h.HandleLog(msg.Args[0].S, msg.Args[1].S)
		} else {
			h.HandleMisc(msg)
		}
	default:
		h.HandleMisc(msg)
	}
}

func (p *Port) checkMissingHeartbeat(h BgHandler) {
	p.hbMu.Lock()
	expecting := p.expectHeartbeats
	gapOK := !p.lastHeartbeat.IsZero() && time.Since(p.lastHeartbeat) > p.opts.MaxHeartbeatGap
	already := p.missingHBFired
	if expecting && gapOK && !already {
		p.missingHBFired = true
	}
	fire := expecting && gapOK && !already
	p.hbMu.Unlock()
	if fire {
		h.MissingHeartbeat()
	}
}

// allocateToken returns the next token in the monotonically-advancing
// sequence, modulo the 52x52 alphabet space.
func (p *Port) allocateToken() [2]byte {
	p.tokenMu.Lock()
	n := p.tokenNum
	p.tokenNum = (p.tokenNum + 1) % uint16(tokenSpace)
	p.tokenMu.Unlock()
	hi := n / uint16(len(tokenAlphabet))
	lo := n % uint16(len(tokenAlphabet))
	return [2]byte{tokenAlphabet[hi], tokenAlphabet[lo]}
}

// Send transmits msg, assigning it a fresh token if it doesn't already have
// one. It does not wait for any reply.
func (p *Port) Send(msg *wire.Message) error {
	select {
	case <-p.stopCh:
		return p.linkErrOr(ErrLinkDown)
	default:
	}
	if !msg.Assigned {
		msg.Token = p.allocateToken()
		msg.Assigned = true
	}
	frame, err := wire.EncodeFrame(msg.Opcode, msg.Token, msg.Args)
	if err != nil {
		return err
	}
	select {
	case p.outbound <- frame:
		return nil
	case <-p.stopCh:
		return p.linkErrOr(ErrLinkDown)
	}
}

func (p *Port) linkErrOr(fallback error) error {
	if p.linkErr != nil {
		return p.linkErr
	}
	return fallback
}

// Read waits up to timeout for the next foreground message.
func (p *Port) Read(timeout time.Duration) (wire.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-p.fg:
		return msg, nil
	case <-t.C:
		return wire.Message{}, ErrTimeout
	case <-p.stopCh:
		return wire.Message{}, p.linkErrOr(ErrInterrupted)
	}
}

// TryRead is Read without surfacing a timeout as an error: ok is false if
// nothing arrived within timeout.
func (p *Port) TryRead(timeout time.Duration) (msg wire.Message, ok bool) {
	msg, err := p.Read(timeout)
	return msg, err == nil
}

// ReadBackground waits up to timeout for the next background message. It
// only makes sense when Routing == RouteSeparate and the caller (not an
// automatic worker) is draining the background channel itself.
func (p *Port) ReadBackground(timeout time.Duration) (msg wire.Message, ok bool) {
	if p.opts.Routing != RouteSeparate {
		return wire.Message{}, false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-p.bg:
		return msg, true
	case <-t.C:
		return wire.Message{}, false
	case <-p.stopCh:
		return wire.Message{}, false
	}
}

// Flush drains the foreground channel non-blockingly until empty.
func (p *Port) Flush() {
	for {
		select {
		case <-p.fg:
		default:
			return
		}
	}
}

func defaultReplyOpcode(command string, flag byte) [4]byte {
	return [4]byte{command[0], command[1], command[2], flag}
}

// SendAndAck sends msg and waits for its ACK, retrying with a fresh token up
// to retries times on timeout. ackOpcode defaults to command+'A' when nil.
func (p *Port) SendAndAck(msg wire.Message, ackOpcode *[4]byte, timeout time.Duration, retries int) (wire.Message, error) {
	want := defaultReplyOpcode(msg.Command(), 'A')
	if ackOpcode != nil {
		want = *ackOpcode
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		attemptMsg := msg
		attemptMsg.Assigned = false // force a fresh token every attempt, including the first
		if err := p.Send(&attemptMsg); err != nil {
			return wire.Message{}, err
		}
		reply, err := p.Read(timeout)
		if err == ErrTimeout {
			lastErr = err
			p.incMissedAcks()
			continue
		}
		if err != nil {
			return wire.Message{}, err
		}
		if reply.Opcode == want && reply.Token == attemptMsg.Token {
			return reply, nil
		}
		return wire.Message{}, &ProtocolViolationError{
			WantOpcode: string(want[:]), WantToken: attemptMsg.TokenString(),
			GotOpcode: reply.OpcodeString(), GotToken: reply.TokenString(),
		}
	}
	if lastErr == nil {
		lastErr = ErrTimeout
	}
	return wire.Message{}, lastErr
}

// SendAndDone sends msg, waits for its ACK (with retries), then waits once
// more (no retry) for a DONE reply sharing the ACK's token.
func (p *Port) SendAndDone(msg wire.Message, ackOpcode, doneOpcode *[4]byte, ackTimeout, doneTimeout time.Duration, ackRetries int) (ack, done wire.Message, err error) {
	ack, err = p.SendAndAck(msg, ackOpcode, ackTimeout, ackRetries)
	if err != nil {
		return wire.Message{}, wire.Message{}, err
	}

	wantDone := defaultReplyOpcode(msg.Command(), 'D')
	if doneOpcode != nil {
		wantDone = *doneOpcode
	}

	reply, err := p.Read(doneTimeout)
	if err != nil {
		return ack, wire.Message{}, err
	}
	if reply.Opcode != wantDone || reply.Token != ack.Token {
		return ack, wire.Message{}, &ProtocolViolationError{
			WantOpcode: string(wantDone[:]), WantToken: ack.TokenString(),
			GotOpcode: reply.OpcodeString(), GotToken: reply.TokenString(),
		}
	}
	return ack, reply, nil
}

// AskWho sends a discovery request and parses the reply into DeviceDetails.
func (p *Port) AskWho(timeout time.Duration, retries int) (DeviceDetails, error) {
	reply, err := p.SendAndAck(wire.Message{Opcode: [4]byte{'D', 'I', 'S', 'R'}}, nil, timeout, retries)
	if err != nil {
		return DeviceDetails{}, err
	}
	if len(reply.Args) != 4 ||
		reply.Args[0].Kind != wire.KindText ||
		reply.Args[1].Kind != wire.KindInt ||
		reply.Args[2].Kind != wire.KindText ||
		reply.Args[3].Kind != wire.KindText {
		return DeviceDetails{}, &ProtocolViolationError{
			WantOpcode: "DISA(role,instance,hwid,version)", GotOpcode: reply.OpcodeString(),
		}
	}
	return DeviceDetails{
		Role:          reply.Args[0].S,
		InstanceIndex: int(reply.Args[1].I),
		HardwareID:    reply.Args[2].S,
		Version:       reply.Args[3].S,
	}, nil
}

// SetHeartbeatExpectation toggles whether MissingHeartbeat should fire on
// gap, via a HRTR/HRTA exchange with the device.
func (p *Port) SetHeartbeatExpectation(expect bool, timeout time.Duration, retries int) error {
	_, err := p.SendAndAck(wire.Message{
		Opcode: [4]byte{'H', 'R', 'T', 'R'},
		Args:   []wire.Value{wire.BoolValue(expect)},
	}, nil, timeout, retries)
	if err != nil {
		return err
	}
	p.hbMu.Lock()
	p.expectHeartbeats = expect
	p.missingHBFired = false
	p.hbMu.Unlock()
	return nil
}

// Stop signals both worker goroutines, closes the underlying endpoint and
// waits for the goroutines to exit. It is idempotent.
func (p *Port) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.signalStop()
		err = p.phy.Close()
		p.wg.Wait()
		if p.mirror != nil {
			_ = p.mirror.Close()
		}
	})
	return err
}

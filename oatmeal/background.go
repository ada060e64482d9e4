package oatmeal

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curative/oatmeal-protocol/wire"
)

// BgHandler reacts to background (flag=='B') messages and to the
// synthesised missing-heartbeat event. Implementations must be safe to call
// from the Port's background goroutine; they are never called concurrently
// with themselves.
type BgHandler interface {
	HandleHeartbeat(payload wire.Value)
	HandleLog(level, message string)
	HandleMisc(msg wire.Message)
	MissingHeartbeat()
}

// LogrusBgHandler is the default BgHandler: it forwards LOGB entries to a
// logrus logger at the matching level and logs heartbeats/misc traffic at
// debug. The wire spec only says "forward to the logging sink at the
// matching severity" and leaves the level_name -> severity mapping to the
// implementation; unparsable levels fall back to Info with a warning.
type LogrusBgHandler struct {
	Logger *logrus.Logger

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// NewLogrusBgHandler returns a handler logging through logger, or
// logrus.StandardLogger() if logger is nil.
func NewLogrusBgHandler(logger *logrus.Logger) *LogrusBgHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusBgHandler{Logger: logger}
}

func (h *LogrusBgHandler) HandleHeartbeat(payload wire.Value) {
	h.mu.Lock()
	h.lastHeartbeat = time.Now()
	h.mu.Unlock()
	h.Logger.WithField("payload", payload).Debug("heartbeat")
}

// LastHeartbeat returns the time the most recent heartbeat was observed, or
// the zero Time if none has arrived yet.
func (h *LogrusBgHandler) LastHeartbeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHeartbeat
}

func (h *LogrusBgHandler) HandleLog(level, message string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		h.Logger.WithField("level_name", level).Warn("device log with unparsable level, forwarding at info")
		lvl = logrus.InfoLevel
	}
	h.Logger.WithField("source", "device").Log(lvl, message)
}

func (h *LogrusBgHandler) HandleMisc(msg wire.Message) {
	h.Logger.WithField("opcode", msg.OpcodeString()).Debug("background message")
}

func (h *LogrusBgHandler) MissingHeartbeat() {
	h.Logger.Warn("missing heartbeat: max gap elapsed with no HRTB")
}

package debug

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (device opened, image saved)
	LevelLive    = 2 // Live info (commands, state transitions, captures)
	LevelVerbose = 3 // Verbose (sizes, requests, callbacks)
	LevelTrace   = 4 // Trace (GPIO, frames, very low level)
)

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldDevice    = "device"
	FieldSession   = "session"
	FieldCommand   = "command"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldPath      = "path"
	FieldFrame     = "frame"
	FieldRequest   = "request"
)

var (
	level atomic.Int32
	sink  = &swapWriter{}

	mu   sync.Mutex
	base zerolog.Logger
)

func init() {
	sink.set(os.Stdout)
	Init(LevelInfo)
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info
// 2 = live info (commands, transitions, captures)
// 3 = verbose (sizes, requests, callbacks)
// 4 = trace (GPIO, frames)
func Init(debugLevel int) {
	if debugLevel < LevelOff {
		debugLevel = LevelOff
	}
	if debugLevel > LevelTrace {
		debugLevel = LevelTrace
	}
	level.Store(int32(debugLevel))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	// Global level so loggers handed out before Init follow the new level.
	zerolog.SetGlobalLevel(zerologLevel(debugLevel))

	mu.Lock()
	base = zerolog.New(sink).With().
		Timestamp().
		Str("service", "stillcam").
		Logger()
	mu.Unlock()
}

// SetOutput replaces the log destination. Loggers obtained earlier from
// Component keep working and write to the new destination.
func SetOutput(w io.Writer) {
	sink.set(w)
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the base logger.
func Logger() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Component returns a child logger annotated with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str(FieldComponent, name).Logger()
}

func zerologLevel(l int) zerolog.Level {
	switch l {
	case LevelOff:
		return zerolog.Disabled
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelLive, LevelVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// swapWriter lets the output be redirected after loggers were handed out.
type swapWriter struct {
	w atomic.Value // holds writerBox
}

type writerBox struct{ io.Writer }

func (s *swapWriter) set(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	s.w.Store(writerBox{w})
}

func (s *swapWriter) Write(p []byte) (int, error) {
	return s.w.Load().(writerBox).Write(p)
}

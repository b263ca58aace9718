// Package logging provides real-time structured log output for peerkit
// components. Console output keeps the one-line "LEVEL TIMESTAMP [component]
// message key=value" layout; JSON output emits one zerolog object per line.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel accepts level names in any case. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	format    Format
	component string
	peer      string
	zl        zerolog.Logger
}

// New creates a new Logger writing console lines to stdout at INFO.
func New() *Logger {
	l := &Logger{
		output:   zerolog.SyncWriter(os.Stdout),
		minLevel: LevelInfo,
		format:   FormatConsole,
	}
	l.rebuild()
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.derive(component, l.peer)
}

// WithPeer returns a new logger that tags every entry with the peer ID.
func (l *Logger) WithPeer(peerID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.derive(l.component, peerID)
}

func (l *Logger) derive(component, peer string) *Logger {
	n := &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		format:    l.format,
		component: component,
		peer:      peer,
	}
	n.rebuild()
	return n
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	l.rebuild()
}

// SetOutput sets the output writer (default: stdout). Loggers derived
// afterwards share the writer and its lock.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = zerolog.SyncWriter(w)
	l.rebuild()
}

// SetFormat switches between console and JSON output.
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
	l.rebuild()
}

// rebuild recreates the zerolog logger. Caller holds mu or owns l.
func (l *Logger) rebuild() {
	w := l.output
	if l.format != FormatJSON {
		component := l.component
		w = zerolog.ConsoleWriter{
			Out:           w,
			NoColor:       true,
			TimeFormat:    "2006-01-02T15:04:05.000Z07:00",
			PartsOrder:    []string{zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.MessageFieldName},
			FieldsExclude: []string{"component"},
			FormatLevel: func(i interface{}) string {
				return fmt.Sprintf("%-5s", strings.ToUpper(fmt.Sprint(i)))
			},
			FormatMessage: func(i interface{}) string {
				if component == "" {
					return fmt.Sprint(i)
				}
				return fmt.Sprintf("[%s] %v", component, i)
			},
		}
	}

	ctx := zerolog.New(w).Level(l.minLevel.zerolog()).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.peer != "" {
		ctx = ctx.Str("peer", l.peer)
	}
	l.zl = ctx.Logger()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.ErrorLevel, msg, fields...)
}

func (l *Logger) log(level zerolog.Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	ev := zl.WithLevel(level)
	if ev == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}

// --- Peer event logging methods ---

// PeerConnected logs a transport connection to a peer.
func (l *Logger) PeerConnected(peerID, transport string) {
	l.Info("peer_connected", map[string]interface{}{
		"peer_id":   peerID,
		"transport": transport,
	})
}

// PeerDisconnected logs the loss of a transport connection.
func (l *Logger) PeerDisconnected(peerID string, err error) {
	fields := map[string]interface{}{
		"peer_id": peerID,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("peer_disconnected", fields)
}

// PeerAvailable logs a successful liveness probe.
func (l *Logger) PeerAvailable(peerID string) {
	l.Debug("peer_available", map[string]interface{}{
		"peer_id": peerID,
	})
}

// PeerUnavailable logs a failed liveness probe.
func (l *Logger) PeerUnavailable(peerID string) {
	l.Warn("peer_unavailable", map[string]interface{}{
		"peer_id": peerID,
	})
}

// RequestFailed logs a request that could not be answered.
func (l *Logger) RequestFailed(destination string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"destination": destination,
		"duration":    duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("request_failed", fields)
}

// ConfigLoaded logs where configuration came from.
func (l *Logger) ConfigLoaded(path string, peers int) {
	if path == "" {
		path = "defaults"
	}
	l.Info("config_loaded", map[string]interface{}{
		"path":  path,
		"peers": peers,
	})
}

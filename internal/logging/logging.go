// Package logging implements the controller and runtime's structured,
// leveled logger: async buffered writes, text or JSON output, file
// rotation, and session-scoped child loggers. A hand-rolled logger rather
// than zap/logrus — first-party service logs in this codebase don't reach
// for a third-party logging library.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a log entry.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Format selects the output encoding.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// Entry is one emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Session   string                 `json:"session,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Config configures a Logger.
type Config struct {
	MinLevel   Level
	Format     Format
	BufferSize int
	Outputs    []io.Writer
	FilePath   string // empty disables file logging
	MaxSize    int64  // bytes before rotation; 0 disables rotation
	MaxBackups int
}

// Logger is the process-wide async logger. Entries are buffered and
// written from one background goroutine so callers on the debuggee's hot
// path never block on I/O.
type Logger struct {
	cfg     Config
	entries chan *Entry
	syncCh  chan chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	file    *rotatingFile
}

// New constructs and starts a Logger.
func New(cfg Config) (*Logger, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []io.Writer{os.Stdout}
	}

	l := &Logger{cfg: cfg, entries: make(chan *Entry, cfg.BufferSize), syncCh: make(chan chan struct{}, 1)}

	if cfg.FilePath != "" {
		f, err := newRotatingFile(cfg.FilePath, cfg.MaxSize, cfg.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		l.cfg.Outputs = append(l.cfg.Outputs, f)
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e, ok := <-l.entries:
			if !ok {
				return
			}
			l.write(e)
		case done := <-l.syncCh:
			l.drainPending()
			close(done)
		}
	}
}

// drainPending flushes any entries queued ahead of a Sync request.
func (l *Logger) drainPending() {
	for {
		select {
		case e := <-l.entries:
			l.write(e)
		default:
			return
		}
	}
}

func (l *Logger) write(e *Entry) {
	var line string
	if l.cfg.Format == JSONFormat {
		body, err := json.Marshal(e)
		if err != nil {
			line = fmt.Sprintf("logging: marshal failed: %v\n", err)
		} else {
			line = string(body) + "\n"
		}
	} else {
		line = formatText(e)
	}
	for _, w := range l.cfg.Outputs {
		io.WriteString(w, line)
	}
}

func formatText(e *Entry) string {
	ts := e.Timestamp.Format(time.RFC3339)
	var sessionPart string
	if e.Session != "" {
		sessionPart = " session=" + e.Session
	}
	var fieldsPart string
	for k, v := range e.Fields {
		fieldsPart += fmt.Sprintf(" %s=%v", k, v)
	}
	return fmt.Sprintf("[%s] %-5s%s %s%s\n", ts, e.Level, sessionPart, e.Message, fieldsPart)
}

func (l *Logger) log(level Level, session, msg string, fields map[string]interface{}) {
	if level < l.cfg.MinLevel {
		return
	}
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}
	l.entries <- &Entry{Timestamp: time.Now(), Level: level.String(), Message: msg, Session: session, Fields: fields}
}

func (l *Logger) Debug(msg string) { l.log(Debug, "", msg, nil) }
func (l *Logger) Info(msg string)  { l.log(Info, "", msg, nil) }
func (l *Logger) Warn(msg string)  { l.log(Warn, "", msg, nil) }
func (l *Logger) Error(msg string) { l.log(Error, "", msg, nil) }

// WithSession returns a child logger that stamps every entry with
// session, minted fresh with NewSessionID if the caller doesn't have one
// yet.
func (l *Logger) WithSession(session string) *SessionLogger {
	if session == "" {
		session = NewSessionID()
	}
	return &SessionLogger{parent: l, session: session}
}

// NewSessionID mints a fresh session identifier for a new debug session.
func NewSessionID() string {
	return uuid.NewString()
}

// Sync blocks until every entry enqueued so far has been written.
func (l *Logger) Sync() {
	done := make(chan struct{})
	l.syncCh <- done
	<-done
}

// Close stops accepting new entries, drains the buffer, and closes the
// log file if one was configured.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.entries)
	l.wg.Wait()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SessionLogger stamps every entry with a session id, so controller logs
// for concurrent sessions can be told apart.
type SessionLogger struct {
	parent  *Logger
	session string
}

func (s *SessionLogger) Debug(msg string) { s.parent.log(Debug, s.session, msg, nil) }
func (s *SessionLogger) Info(msg string)  { s.parent.log(Info, s.session, msg, nil) }
func (s *SessionLogger) Warn(msg string)  { s.parent.log(Warn, s.session, msg, nil) }
func (s *SessionLogger) Error(msg string) { s.parent.log(Error, s.session, msg, nil) }

func (s *SessionLogger) WithFields(msg string, level Level, fields map[string]interface{}) {
	s.parent.log(level, s.session, msg, fields)
}

// rotatingFile is an io.Writer that rotates to a numbered backup once it
// exceeds maxSize bytes.
type rotatingFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxSize    int64
	maxBackups int
}

func newRotatingFile(path string, maxSize int64, maxBackups int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingFile{file: f, path: path, size: info.Size(), maxSize: maxSize, maxBackups: maxBackups}, nil
}

func (w *rotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingFile) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	for i := w.maxBackups; i > 0; i-- {
		older := fmt.Sprintf("%s.%d", w.path, i)
		newer := fmt.Sprintf("%s.%d", w.path, i-1)
		if i == 1 {
			newer = w.path
		}
		os.Rename(newer, older)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *rotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

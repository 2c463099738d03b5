package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

const (
	defaultThresholdKB = 10 * 1000 // 10 MB per file before rolling.
	defaultMaxRolls    = 4
)

type logWriter struct {
	io.WriteCloser
	level Level
}

// Backend is a logging backend. Subsystem loggers created from the backend
// write to all of the backend's writers whose level admits the entry.
// Writes are serialized so lines from different subsystems never interleave.
type Backend struct {
	mtx     sync.Mutex
	writers []logWriter
	closed  bool
}

// NewBackend creates a backend with no writers attached.
func NewBackend() *Backend {
	return &Backend{}
}

// AddLogWriter attaches w; entries at level or above are written to it.
func (b *Backend) AddLogWriter(w io.WriteCloser, level Level) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.writers = append(b.writers, logWriter{WriteCloser: w, level: level})
}

// AddLogFile attaches a rotating log file. The directory is created if it
// does not exist.
func (b *Backend) AddLogFile(logFile string, level Level) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return errors.Wrapf(err, "failed to create log directory %s", logDir)
		}
	}
	r, err := rotator.New(logFile, defaultThresholdKB, false, defaultMaxRolls)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}
	b.AddLogWriter(r, level)
	return nil
}

func (b *Backend) write(level Level, line []byte) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return
	}
	for _, w := range b.writers {
		if level >= w.level {
			_, _ = w.Write(line)
		}
	}
}

// Close flushes and closes all writers. Later writes are dropped.
func (b *Backend) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, w := range b.writers {
		_ = w.Close()
	}
}

// Logger returns a new logger for a particular subsystem that writes to the
// Backend b. The logger starts at LevelInfo.
func (b *Backend) Logger(subsystemTag string) *Logger {
	l := &Logger{tag: subsystemTag, b: b}
	l.SetLevel(LevelInfo)
	return l
}

// Package daemon contiene la lógica del servicio de Windows.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// RotationPolicy bounds the service log file. Once a write pushes the file
// past MaxBytes it is trimmed down to its newest KeepLines lines.
type RotationPolicy struct {
	MaxBytes  int64 // zero disables rotation
	KeepLines int
}

// DefaultRotationPolicy keeps about a shift of call traffic on a POS box.
var DefaultRotationPolicy = RotationPolicy{MaxBytes: 5 << 20, KeepLines: 1000}

const (
	// flushKeep is how many lines FlushLogFile leaves for context.
	flushKeep = 50
	// tailReadLimit caps how much of the file a trim reads back.
	tailReadLimit = 64 * 1024
)

// Per-call and per-connection lines, dropped when the service is not verbose.
// Connect, print failures, timeouts and panics are always kept.
var chattyPrefixes = []string{
	"[WS] ➕ Client connected",
	"[WS] ➖ Client disconnected",
	"[QUEUE] 📥",
	"[WORKER] 🔄 Processing",
	"[WORKER] ✅",
	"[SESSION] ℹ️",
}

var verbose atomic.Bool

func init() {
	verbose.Store(true)
}

// logSink is the file behind the standard logger.
type logSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	size   int64
	policy RotationPolicy
}

var sink = &logSink{}

// FilteredLogger is the io.Writer installed on the standard logger.
type FilteredLogger struct{}

// Write drops chatty lines when not verbose and rotates the file when the
// policy limit is crossed.
func (l *FilteredLogger) Write(p []byte) (n int, err error) {
	if !verbose.Load() && isChatty(p) {
		return len(p), nil
	}
	return sink.write(p)
}

func isChatty(p []byte) bool {
	msg := string(p)
	for _, prefix := range chattyPrefixes {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}

// InitLogger points the standard logger at path, trimming the file first
// if it already exceeds the policy.
func InitLogger(path string, verboseLogs bool, policy RotationPolicy) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	verbose.Store(verboseLogs)

	if sink.file != nil {
		_ = sink.file.Close()
		sink.file = nil
	}
	if policy.KeepLines <= 0 {
		policy.KeepLines = DefaultRotationPolicy.KeepLines
	}
	sink.path = path
	sink.policy = policy

	if err := sink.reopen(); err != nil {
		return err
	}
	if sink.overLimit() {
		if err := sink.trim(policy.KeepLines); err != nil {
			fmt.Fprintf(os.Stderr, "[!] Log rotation failed: %v\n", err)
		}
	}

	log.SetOutput(&FilteredLogger{})
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	return nil
}

// CloseLogger detaches the standard logger from the log file.
func CloseLogger() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	log.SetOutput(os.Stderr)
	if sink.file == nil {
		return nil
	}
	err := sink.file.Close()
	sink.file = nil
	return err
}

// SetVerbose changes the verbosity level at runtime
func SetVerbose(v bool) {
	verbose.Store(v)
	log.Printf("[OK] Log verbosity: %v", v)
}

// GetVerbose returns current verbosity level
func GetVerbose() bool {
	return verbose.Load()
}

// GetLogFileSize returns current log file size
func GetLogFileSize() int64 {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file == nil {
		return 0
	}
	return sink.size
}

// FlushLogFile keeps the last lines and clears the rest
func FlushLogFile() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.file == nil {
		return errors.New("log file not initialized")
	}
	return sink.trim(flushKeep)
}

func (s *logSink) write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, errors.New("log file not initialized")
	}
	n, err := s.file.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, err
	}

	if s.overLimit() {
		if terr := s.trim(s.policy.KeepLines); terr != nil {
			fmt.Fprintf(os.Stderr, "[!] Log rotation failed: %v\n", terr)
		}
	}
	return n, nil
}

func (s *logSink) overLimit() bool {
	return s.policy.MaxBytes > 0 && s.size >= s.policy.MaxBytes
}

// trim rewrites the file with its newest keep lines. Caller holds s.mu.
func (s *logSink) trim(keep int) error {
	limit := int64(tailReadLimit)
	if s.policy.MaxBytes > 0 && s.policy.MaxBytes/2 < limit {
		limit = s.policy.MaxBytes / 2
	}

	lines := readLastNLines(s.path, keep, limit)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
		s.file = nil
	}
	if err := os.WriteFile(s.path, []byte(content), 0600); err != nil {
		return err
	}
	return s.reopen()
}

// reopen opens the file for appending and refreshes the tracked size.
func (s *logSink) reopen() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600) //nolint:gosec
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// readLastNLines returns up to n trailing lines from the last limit bytes
// of the file.
func readLastNLines(path string, n int, limit int64) []string {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return []string{}
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return []string{}
	}

	size := stat.Size()
	if size == 0 || limit <= 0 {
		return []string{}
	}

	bufSize := limit
	if size < bufSize {
		bufSize = size
	}

	buf := make([]byte, bufSize)
	if _, err := file.ReadAt(buf, size-bufSize); err != nil && !errors.Is(err, io.EOF) {
		return []string{}
	}

	allLines := strings.Split(string(buf), "\n")
	for len(allLines) > 0 && allLines[len(allLines)-1] == "" {
		allLines = allLines[:len(allLines)-1]
	}

	// Started mid-line
	if size > bufSize && len(allLines) > 0 {
		allLines = allLines[1:]
	}

	if len(allLines) <= n {
		return allLines
	}
	return allLines[len(allLines)-n:]
}

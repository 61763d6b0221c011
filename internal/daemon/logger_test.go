package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestLogger(t *testing.T, verbose bool, policy RotationPolicy) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "PosPrinter.log")
	require.NoError(t, InitLogger(path, verbose, policy))
	t.Cleanup(func() {
		_ = CloseLogger()
		SetVerbose(true)
	})
	return path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFilteredLoggerVerbosity(t *testing.T) {
	path := initTestLogger(t, false, DefaultRotationPolicy)

	log.Println("[QUEUE] 📥 printBytes queued: job-1 (queue: 1/50)")
	log.Println("[SESSION] 🔌 Connected to printer \"58mm PT-210\"")

	content := readLog(t, path)
	assert.NotContains(t, content, "job-1", "non-critical lines are dropped when not verbose")
	assert.Contains(t, content, "Connected to printer")

	SetVerbose(true)
	assert.True(t, GetVerbose())
	log.Println("[QUEUE] 📥 printBytes queued: job-2 (queue: 1/50)")
	assert.Contains(t, readLog(t, path), "job-2")
}

func TestFlushLogFile(t *testing.T) {
	path := initTestLogger(t, true, DefaultRotationPolicy)

	for i := 0; i < 120; i++ {
		log.Printf("[TEST] line %03d", i)
	}
	require.NoError(t, FlushLogFile())

	lines := strings.Split(strings.TrimRight(readLog(t, path), "\n"), "\n")
	require.Len(t, lines, flushKeep)
	assert.Contains(t, lines[len(lines)-1], "line 119")

	// Logging keeps working after the flush
	log.Println("[TEST] after flush")
	assert.Contains(t, readLog(t, path), "after flush")
	assert.Positive(t, GetLogFileSize())
}

func TestInitLoggerTrimsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PosPrinter.log")
	policy := RotationPolicy{MaxBytes: 256 * 1024, KeepLines: 500}

	var b strings.Builder
	for i := 0; int64(b.Len()) < policy.MaxBytes+1024; i++ {
		fmt.Fprintf(&b, "2026/01/01 12:00:00.000000 [WORKER] ❌ printBytes job-%07d failed: printer offline\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))

	require.NoError(t, InitLogger(path, true, policy))
	t.Cleanup(func() { _ = CloseLogger() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(tailReadLimit))
	assert.Equal(t, info.Size(), GetLogFileSize())

	lines := strings.Split(strings.TrimRight(readLog(t, path), "\n"), "\n")
	assert.LessOrEqual(t, len(lines), policy.KeepLines)
	assert.True(t, strings.HasSuffix(b.String(), lines[len(lines)-1]+"\n"), "newest line survives")
}

func TestLogRotatesWhileRunning(t *testing.T) {
	policy := RotationPolicy{MaxBytes: 4096, KeepLines: 20}
	path := initTestLogger(t, true, policy)

	for i := 0; i < 300; i++ {
		log.Printf("[SESSION] 🖨️ Job \"POS RAW Document %03d\": 64 bytes sent to \"58mm PT-210\"", i)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), policy.MaxBytes)

	lines := strings.Split(strings.TrimRight(readLog(t, path), "\n"), "\n")
	assert.Contains(t, lines[len(lines)-1], "Document 299")
	assert.NotContains(t, readLog(t, path), "Document 000", "old lines are rotated out")
}

func TestRotationDisabled(t *testing.T) {
	path := initTestLogger(t, true, RotationPolicy{MaxBytes: 0, KeepLines: 10})

	for i := 0; i < 100; i++ {
		log.Printf("[TEST] line %03d", i)
	}

	assert.Contains(t, readLog(t, path), "line 000")
	assert.Len(t, strings.Split(strings.TrimRight(readLog(t, path), "\n"), "\n"), 100)
}

func TestFlushLogFileWithoutLogger(t *testing.T) {
	require.NoError(t, CloseLogger())
	assert.Error(t, FlushLogFile())
	assert.Zero(t, GetLogFileSize())
}

func TestReadLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n\n"), 0600))

	assert.Equal(t, []string{"b", "c"}, readLastNLines(path, 2, tailReadLimit))
	assert.Equal(t, []string{"a", "b", "c"}, readLastNLines(path, 10, tailReadLimit))
	assert.Equal(t, []string{"c"}, readLastNLines(path, 10, 4), "partial first line is dropped")
	assert.Empty(t, readLastNLines(filepath.Join(t.TempDir(), "missing.log"), 5, tailReadLimit))
}

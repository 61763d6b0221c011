package posprinter

import (
	"errors"
	"fmt"

	"github.com/adcondev/pos-printer/internal/spooler"
)

var (
	// ErrEmptyName is returned by PickPrinter when no name is given.
	ErrEmptyName = errors.New("printer name not specified")
	// ErrNotBound is returned by PrintBytes when no printer is connected.
	ErrNotBound = errors.New("no printer connected")
	// ErrOffline is returned by PickPrinter when the device reports itself unusable.
	ErrOffline = errors.New("printer is not available")
	// ErrNoProgress is returned when the spooler keeps accepting zero bytes.
	ErrNoProgress = errors.New("spooler accepted no bytes")
	// ErrTimeout is returned when a spooler call does not finish in time.
	ErrTimeout = errors.New("printer operation timed out")

	ErrPrinterNotFound = spooler.ErrPrinterNotFound
	ErrAccessDenied    = spooler.ErrAccessDenied
)

// FaultError wraps a panic recovered while talking to the spooler.
type FaultError struct {
	Op    string
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Op, e.Value)
}

// Package spooler is the thin binding over the Windows print spooler:
// printer enumeration, default printer lookup and raw job streaming.
package spooler

import "errors"

var (
	// ErrPrinterNotFound is returned when the spooler knows no printer by that name.
	ErrPrinterNotFound = errors.New("printer not found")
	// ErrAccessDenied is returned when the spooler refuses to open the printer.
	ErrAccessDenied = errors.New("printer access denied")
	// ErrUnsupported is returned on platforms without a print spooler binding.
	ErrUnsupported = errors.New("print spooler not supported on this platform")
)

// PrinterInfo is the subset of PRINTER_INFO_2 the service cares about.
type PrinterInfo struct {
	Name       string
	Driver     string
	Port       string
	Status     uint32
	Attributes uint32
}

// Device is an open printer handle.
//
// A raw job is StartRawDoc, one or more Write calls, then EndDoc. Write
// performs a single spooler write and may accept fewer bytes than given.
type Device interface {
	Info() (PrinterInfo, error)
	StartRawDoc(docName string) error
	Write(p []byte) (int, error)
	EndDoc() error
	Close() error
}

// Spooler enumerates printers and opens devices by name.
type Spooler interface {
	Enumerate() ([]PrinterInfo, error)
	// DefaultPrinter returns "" with a nil error when no default is configured.
	DefaultPrinter() (string, error)
	Open(name string) (Device, error)
}

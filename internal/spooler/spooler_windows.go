//go:build windows

package spooler

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/alexbrainman/printer"
	"golang.org/x/sys/windows"
)

// --- WinAPI binding ---
var (
	modwinspool      = windows.NewLazySystemDLL("winspool.drv")
	procEnumPrinters = modwinspool.NewProc("EnumPrintersW")
)

const (
	printerEnumLocal       = 0x00000002
	printerEnumConnections = 0x00000004
)

// printerInfo2 mirrors PRINTER_INFO_2.
type printerInfo2 struct {
	ServerName         *uint16
	PrinterName        *uint16
	ShareName          *uint16
	PortName           *uint16
	DriverName         *uint16
	Comment            *uint16
	Location           *uint16
	DevMode            uintptr
	SepFile            *uint16
	PrintProcessor     *uint16
	Datatype           *uint16
	Parameters         *uint16
	SecurityDescriptor uintptr
	Attributes         uint32
	Priority           uint32
	DefaultPriority    uint32
	StartTime          uint32
	UntilTime          uint32
	Status             uint32
	Jobs               uint32
	AveragePPM         uint32
}

type winSpooler struct{}

// New returns the spooler backed by winspool.drv.
func New() Spooler {
	return winSpooler{}
}

// Enumerate lists local printers and printer connections.
func (winSpooler) Enumerate() ([]PrinterInfo, error) {
	return enumPrinters()
}

// DefaultPrinter returns the user's default printer.
func (winSpooler) DefaultPrinter() (string, error) {
	name, err := printer.Default()
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
			return "", nil
		}
		return "", fmt.Errorf("GetDefaultPrinter failed: %w", err)
	}
	return name, nil
}

// Open opens a handle to the named printer.
func (winSpooler) Open(name string) (Device, error) {
	p, err := printer.Open(name)
	if err != nil {
		return nil, fmt.Errorf("OpenPrinter %q failed: %w", name, classify(err))
	}
	return &winDevice{name: name, p: p}, nil
}

// winDevice implements Device over an alexbrainman/printer handle.
type winDevice struct {
	name    string
	p       *printer.Printer
	inPage  bool
	started bool
}

func (d *winDevice) Info() (PrinterInfo, error) {
	printers, err := enumPrinters()
	if err != nil {
		return PrinterInfo{}, err
	}
	for _, info := range printers {
		if strings.EqualFold(info.Name, d.name) {
			return info, nil
		}
	}
	return PrinterInfo{}, fmt.Errorf("%q: %w", d.name, ErrPrinterNotFound)
}

func (d *winDevice) StartRawDoc(docName string) error {
	if err := d.p.StartRawDocument(docName); err != nil {
		return fmt.Errorf("StartDocPrinter failed: %w", classify(err))
	}
	d.started = true
	if err := d.p.StartPage(); err != nil {
		return fmt.Errorf("StartPagePrinter failed: %w", classify(err))
	}
	d.inPage = true
	return nil
}

func (d *winDevice) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := d.p.Write(p)
	if err != nil {
		return n, fmt.Errorf("WritePrinter failed: %w", classify(err))
	}
	return n, nil
}

func (d *winDevice) EndDoc() error {
	var errs []error
	if d.inPage {
		if err := d.p.EndPage(); err != nil {
			errs = append(errs, fmt.Errorf("EndPagePrinter failed: %w", err))
		}
		d.inPage = false
	}
	if d.started {
		if err := d.p.EndDocument(); err != nil {
			errs = append(errs, fmt.Errorf("EndDocPrinter failed: %w", err))
		}
		d.started = false
	}
	return errors.Join(errs...)
}

func (d *winDevice) Close() error {
	if err := d.p.Close(); err != nil {
		return fmt.Errorf("ClosePrinter failed: %w", err)
	}
	return nil
}

// enumPrinters calls EnumPrintersW level 2, growing the buffer while the
// printer set changes between the size probe and the real call.
func enumPrinters() ([]PrinterInfo, error) {
	flags := uintptr(printerEnumLocal | printerEnumConnections)
	var needed, returned uint32

	r1, _, err := procEnumPrinters.Call(flags, 0, 2, 0, 0,
		uintptr(unsafe.Pointer(&needed)),
		uintptr(unsafe.Pointer(&returned)),
	)
	if r1 == 0 && !errors.Is(err, windows.ERROR_INSUFFICIENT_BUFFER) {
		return nil, fmt.Errorf("EnumPrinters failed: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		if needed == 0 {
			return []PrinterInfo{}, nil
		}
		buf := make([]byte, needed)
		r1, _, err = procEnumPrinters.Call(flags, 0, 2,
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(needed),
			uintptr(unsafe.Pointer(&needed)),
			uintptr(unsafe.Pointer(&returned)),
		)
		if r1 == 0 {
			if errors.Is(err, windows.ERROR_INSUFFICIENT_BUFFER) {
				continue
			}
			return nil, fmt.Errorf("EnumPrinters failed: %w", err)
		}

		entries := unsafe.Slice((*printerInfo2)(unsafe.Pointer(&buf[0])), returned)
		out := make([]PrinterInfo, 0, returned)
		for i := range entries {
			e := &entries[i]
			out = append(out, PrinterInfo{
				Name:       windows.UTF16PtrToString(e.PrinterName),
				Driver:     windows.UTF16PtrToString(e.DriverName),
				Port:       windows.UTF16PtrToString(e.PortName),
				Status:     e.Status,
				Attributes: e.Attributes,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("EnumPrinters failed: %w", windows.ERROR_INSUFFICIENT_BUFFER)
}

// classify maps spooler error codes onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_INVALID_PRINTER_NAME):
		return fmt.Errorf("%w: %w", ErrPrinterNotFound, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}

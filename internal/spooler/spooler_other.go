//go:build !windows

package spooler

import "fmt"

// unsupported stands in for the spooler on other platforms: it reports no
// printers and refuses to open any.
type unsupported struct{}

// New returns a spooler that lists nothing and fails every Open.
func New() Spooler {
	return unsupported{}
}

func (unsupported) Enumerate() ([]PrinterInfo, error) {
	return []PrinterInfo{}, nil
}

func (unsupported) DefaultPrinter() (string, error) {
	return "", nil
}

func (unsupported) Open(name string) (Device, error) {
	return nil, fmt.Errorf("open %q: %w", name, ErrUnsupported)
}

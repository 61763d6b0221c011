package posprinter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adcondev/pos-printer/internal/spooler"
)

// fakeSpooler is an in-memory spooler that records every handle it opens.
type fakeSpooler struct {
	mu          sync.Mutex
	printers    []spooler.PrinterInfo
	defaultName string
	defaultErr  error
	enumErr     error
	enumCalls   int
	openErr     map[string]error
	openGate    map[string]chan struct{} // Open(name) waits until the gate is closed
	configure   func(d *fakeDevice)
	devices     []*fakeDevice
}

func newFakeSpooler(names ...string) *fakeSpooler {
	f := &fakeSpooler{openErr: map[string]error{}, openGate: map[string]chan struct{}{}}
	for _, n := range names {
		f.printers = append(f.printers, spooler.PrinterInfo{Name: n, Driver: n + " Driver", Port: "USB001"})
	}
	return f
}

func (f *fakeSpooler) Enumerate() ([]spooler.PrinterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumCalls++
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	out := make([]spooler.PrinterInfo, len(f.printers))
	copy(out, f.printers)
	return out, nil
}

func (f *fakeSpooler) DefaultPrinter() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultName, f.defaultErr
}

func (f *fakeSpooler) Open(name string) (spooler.Device, error) {
	f.mu.Lock()
	gate := f.openGate[name]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[name]; err != nil {
		return nil, err
	}
	for _, p := range f.printers {
		if strings.EqualFold(p.Name, name) {
			d := &fakeDevice{info: p}
			if f.configure != nil {
				f.configure(d)
			}
			f.devices = append(f.devices, d)
			return d, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, spooler.ErrPrinterNotFound)
}

// openHandles returns the names of devices that were opened and not closed.
func (f *fakeSpooler) openHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []string
	for _, d := range f.devices {
		if !d.isClosed() {
			open = append(open, d.info.Name)
		}
	}
	return open
}

func (f *fakeSpooler) device(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[i]
}

func (f *fakeSpooler) deviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

// fakeDevice records raw jobs and can misbehave on demand.
type fakeDevice struct {
	mu       sync.Mutex
	info     spooler.PrinterInfo
	infoErr  error
	closed   bool
	closeErr error

	inDoc    bool
	current  []byte
	jobs     [][]byte
	docNames []string
	writes   int

	maxChunk     int // >0 caps the bytes accepted per Write
	stall        bool
	writeErr     error
	startErr     error
	panicOnWrite bool
	writeDelay   time.Duration
	block        chan struct{}
	closeGate    chan struct{}
}

func (d *fakeDevice) Info() (spooler.PrinterInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, d.infoErr
}

func (d *fakeDevice) StartRawDoc(docName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	if d.inDoc {
		return errors.New("StartDocPrinter: a document is already open on this handle")
	}
	d.inDoc = true
	d.current = nil
	d.docNames = append(d.docNames, docName)
	return nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.block != nil {
		<-d.block
	}
	if d.writeDelay > 0 {
		time.Sleep(d.writeDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if d.panicOnWrite {
		panic("driver exploded")
	}
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	if d.stall {
		return 0, nil
	}
	n := len(p)
	if d.maxChunk > 0 && n > d.maxChunk {
		n = d.maxChunk
	}
	d.current = append(d.current, p[:n]...)
	return n, nil
}

func (d *fakeDevice) EndDoc() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inDoc {
		d.jobs = append(d.jobs, d.current)
		d.current = nil
		d.inDoc = false
	}
	return nil
}

func (d *fakeDevice) Close() error {
	if d.closeGate != nil {
		<-d.closeGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) jobCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *fakeDevice) job(i int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[i]
}

func (d *fakeDevice) documentOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inDoc
}

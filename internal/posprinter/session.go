package posprinter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adcondev/pos-printer/internal/spooler"
)

const (
	// DefaultIOTimeout bounds every spooler call made by a Session.
	DefaultIOTimeout = 30 * time.Second
	// DefaultDocName prefixes the document name shown in the spooler queue.
	DefaultDocName = "POS RAW Document"
	// MaxStalledWrites is how many consecutive zero-byte writes are tolerated.
	MaxStalledWrites = 3
)

// Option configures a Session.
type Option func(*Session)

// WithIOTimeout bounds each operation; zero or negative disables the bound.
func WithIOTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.ioTimeout = d
	}
}

// WithDocName sets the spooler document name prefix.
func WithDocName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.docName = name
		}
	}
}

// Session owns at most one open printer handle.
//
// PickPrinter, PrintBytes and Close are serialized by a single exclusive
// lock. The goroutine performing a spooler call keeps the lock until the
// call returns, even when the caller has already given up with ErrTimeout,
// so two jobs never share a handle at the same time.
//
// A binding change is committed only while its caller is still waiting.
// Once a caller has been told ErrTimeout, the late result of its spooler
// call is discarded and the binding stays as it was.
type Session struct {
	spooler   spooler.Spooler
	lock      chan struct{}
	ioTimeout time.Duration
	docName   string

	stateMu sync.RWMutex
	dev     spooler.Device
	name    string
}

// NewSession creates an unbound session.
func NewSession(sp spooler.Spooler, opts ...Option) *Session {
	s := &Session{
		spooler:   sp,
		lock:      make(chan struct{}, 1),
		ioTimeout: DefaultIOTimeout,
		docName:   DefaultDocName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bound returns the connected printer name, if any.
func (s *Session) Bound() (string, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.name, s.dev != nil
}

// PickPrinter binds the session to the named printer.
//
// The new handle is opened and checked before the previous one is
// released: on any failure the previous binding is left untouched.
func (s *Session) PickPrinter(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}

	return s.exec(ctx, "connect", func(c *call) error {
		dev, err := s.spooler.Open(name)
		if err != nil {
			return fmt.Errorf("error connecting to printer %q: %w", name, err)
		}

		info, err := dev.Info()
		switch {
		case err != nil:
			log.Printf("[SESSION] ⚠️ Could not read status of %q: %v", name, err)
		case !spooler.Available(info.Status, info.Attributes):
			if cerr := dev.Close(); cerr != nil {
				log.Printf("[SESSION] ⚠️ Error closing rejected handle for %q: %v", name, cerr)
			}
			return fmt.Errorf("printer %q is %s: %w", name,
				spooler.StatusText(info.Status, info.Attributes), ErrOffline)
		}

		s.stateMu.Lock()
		if !c.commit() {
			s.stateMu.Unlock()
			if cerr := dev.Close(); cerr != nil {
				log.Printf("[SESSION] ⚠️ Error closing late handle for %q: %v", name, cerr)
			}
			log.Printf("[SESSION] ⏱️ Connect to %q finished after the caller gave up, binding unchanged", name)
			return fmt.Errorf("connect %q: %w", name, ErrTimeout)
		}
		old, oldName := s.dev, s.name
		s.dev, s.name = dev, name
		s.stateMu.Unlock()

		if old != nil {
			if err := old.Close(); err != nil {
				log.Printf("[SESSION] ⚠️ Error releasing previous printer %q: %v", oldName, err)
			} else {
				log.Printf("[SESSION] 🔁 Released previous printer %q", oldName)
			}
		}

		log.Printf("[SESSION] 🔌 Connected to printer %q", name)
		return nil
	})
}

// PrintBytes sends data to the bound printer as one raw job.
//
// An empty buffer succeeds without queueing a job. Partial writes are
// continued with the remainder; MaxStalledWrites consecutive zero-byte
// writes fail with ErrNoProgress.
func (s *Session) PrintBytes(ctx context.Context, data []byte) error {
	buf := bytes.Clone(data)

	return s.exec(ctx, "print", func(*call) error {
		s.stateMu.RLock()
		dev, name := s.dev, s.name
		s.stateMu.RUnlock()

		if dev == nil {
			return ErrNotBound
		}
		if len(buf) == 0 {
			log.Printf("[SESSION] ℹ️ Empty buffer for %q, nothing queued", name)
			return nil
		}
		return s.stream(dev, name, buf)
	})
}

// Close releases the printer handle. Closing an unbound session succeeds.
// The session is unbound afterwards even if the spooler reports an error.
//
// The unbind is committed before ClosePrinter runs. If ClosePrinter then
// outlives the I/O timeout, Close reports success and the handle is
// released in the background while the session lock is still held.
func (s *Session) Close(ctx context.Context) error {
	return s.exec(ctx, "close", func(c *call) error {
		s.stateMu.Lock()
		if !c.commit() {
			s.stateMu.Unlock()
			return fmt.Errorf("close: %w", ErrTimeout)
		}
		dev, name := s.dev, s.name
		s.dev, s.name = nil, ""
		s.stateMu.Unlock()

		if dev == nil {
			return nil
		}
		if err := dev.Close(); err != nil {
			return fmt.Errorf("error releasing printer %q: %w", name, err)
		}
		log.Printf("[SESSION] 🔓 Released printer %q", name)
		return nil
	})
}

func (s *Session) stream(dev spooler.Device, name string, data []byte) error {
	docName := fmt.Sprintf("%s %s", s.docName, uuid.NewString()[:8])

	// A driver panic must not leave the document open on the handle.
	defer func() {
		if r := recover(); r != nil {
			if err := dev.EndDoc(); err != nil {
				log.Printf("[SESSION] ⚠️ Error ending job on %q after panic: %v", name, err)
			}
			panic(r)
		}
	}()

	if err := dev.StartRawDoc(docName); err != nil {
		return errors.Join(
			fmt.Errorf("error starting raw job on %q: %w", name, err),
			dev.EndDoc(),
		)
	}

	written, stalls := 0, 0
	for written < len(data) {
		remaining := len(data) - written
		n, err := dev.Write(data[written:])
		if n < 0 || n > remaining {
			return errors.Join(
				fmt.Errorf("spooler reported %d bytes written of %d on %q", n, remaining, name),
				dev.EndDoc(),
			)
		}
		written += n
		if err != nil {
			return errors.Join(
				fmt.Errorf("error writing to %q after %d/%d bytes: %w", name, written, len(data), err),
				dev.EndDoc(),
			)
		}
		if n == 0 {
			stalls++
			if stalls >= MaxStalledWrites {
				return errors.Join(
					fmt.Errorf("printer %q after %d/%d bytes: %w", name, written, len(data), ErrNoProgress),
					dev.EndDoc(),
				)
			}
			continue
		}
		stalls = 0
	}

	if err := dev.EndDoc(); err != nil {
		return fmt.Errorf("error finishing job on %q: %w", name, err)
	}

	log.Printf("[SESSION] 🖨️ Job %q: %d bytes sent to %q", docName, len(data), name)
	return nil
}

const (
	callPending int32 = iota
	callCommitted
	callAbandoned
)

// call records whether an exec caller still waits for its result.
type call struct {
	state atomic.Int32
}

// commit claims the outcome for a waiting caller. It returns false when
// the caller has already given up; fn must then leave the session as is.
func (c *call) commit() bool {
	return c.state.CompareAndSwap(callPending, callCommitted)
}

func (c *call) abandon() bool {
	return c.state.CompareAndSwap(callPending, callAbandoned)
}

// exec runs fn under the session lock, bounded by the I/O timeout.
//
// When the timeout fires before fn commits, the caller gets ErrTimeout and
// fn's commit is refused. When fn has already committed, the caller gets
// success and fn finishes its cleanup under the lock.
func (s *Session) exec(ctx context.Context, op string, fn func(c *call) error) error {
	if s.ioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ioTimeout)
		defer cancel()
	}
	if ctx.Err() != nil {
		return waitError(ctx, op)
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return waitError(ctx, op)
	}

	c := &call{}
	done := make(chan error, 1)
	go func() {
		defer func() { <-s.lock }()
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Printf("[SESSION] 💥 Panic during %s: %v\nStack: %s", op, r, stack)
				done <- &FaultError{Op: op, Value: r, Stack: stack}
			}
		}()
		done <- fn(c)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		if !c.abandon() {
			log.Printf("[SESSION] ⏱️ %s committed, spooler call still finishing", op)
			return nil
		}
		log.Printf("[SESSION] ⏱️ %s still blocked in the spooler, giving up", op)
		return waitError(ctx, op)
	}
}

func waitError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, ctx.Err())
}

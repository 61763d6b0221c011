// Package dispatch routes named printer calls to the directory and the
// session, decodes their arguments and encodes their results.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime/debug"

	"github.com/tidwall/gjson"

	"github.com/adcondev/pos-printer/internal/posprinter"
	"github.com/adcondev/pos-printer/internal/printer"
)

// Call names understood by the dispatcher.
const (
	MethodGetList        = "getList"
	MethodConnectPrinter = "connectPrinter"
	MethodPrintBytes     = "printBytes"
	MethodClose          = "close"
)

// Error codes carried by structured errors.
const (
	CodePrintError = "PRINT_ERROR"
	CodeTimeout    = "TIMEOUT"
)

// Call is one named invocation with its raw JSON arguments.
type Call struct {
	Method string
	Args   json.RawMessage
}

// Error is a structured failure distinct from a declined (0) result.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Result is exactly one of: a Value, an Err, or NotImplemented.
// Cause keeps the core error behind a declined (0) value for logging and
// user-facing messages; it is never sent as the result itself.
type Result struct {
	Value          any
	Err            *Error
	NotImplemented bool
	Cause          error
}

// PrinterLister enumerates installed printers.
type PrinterLister interface {
	List(forceRefresh bool) ([]posprinter.Descriptor, error)
}

// PrinterSession is the single bound printer.
type PrinterSession interface {
	PickPrinter(ctx context.Context, name string) error
	PrintBytes(ctx context.Context, data []byte) error
	Close(ctx context.Context) error
}

// Dispatcher maps calls onto a PrinterLister and a PrinterSession.
type Dispatcher struct {
	printers PrinterLister
	session  PrinterSession
}

// New creates a dispatcher.
func New(printers PrinterLister, session PrinterSession) *Dispatcher {
	return &Dispatcher{
		printers: printers,
		session:  session,
	}
}

// Dispatch executes call and never panics; unknown names yield NotImplemented.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	switch call.Method {
	case MethodGetList:
		return d.getList()
	case MethodConnectPrinter:
		return d.connectPrinter(ctx, call.Args)
	case MethodPrintBytes:
		return d.printBytes(ctx, call.Args)
	case MethodClose:
		return d.close(ctx)
	default:
		log.Printf("[DISPATCH] ⚠️ Not implemented: %q", call.Method)
		return Result{NotImplemented: true}
	}
}

func (d *Dispatcher) getList() Result {
	printers, err := d.printers.List(true)
	if err != nil {
		log.Printf("[DISPATCH] ⚠️ getList: %v", err)
		return Result{Value: []printer.DescriptorDTO{}, Cause: err}
	}

	dtos := make([]printer.DescriptorDTO, len(printers))
	for i, p := range printers {
		dtos[i] = p.DTO()
	}
	return Result{Value: dtos}
}

func (d *Dispatcher) connectPrinter(ctx context.Context, args json.RawMessage) Result {
	obj, ok := argsObject(args)
	if !ok {
		log.Printf("[DISPATCH] ⚠️ connectPrinter: missing arguments")
		return Result{Value: 0}
	}

	var name string
	if v := obj.Get("name"); v.Exists() {
		if v.Type != gjson.String {
			log.Printf("[DISPATCH] ⚠️ connectPrinter: 'name' is not a string")
			return Result{Value: 0}
		}
		name = v.Str
	}

	return outcome(MethodConnectPrinter, d.session.PickPrinter(ctx, name))
}

func (d *Dispatcher) printBytes(ctx context.Context, args json.RawMessage) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DISPATCH] 💥 Panic in printBytes: %v\nStack: %s", r, debug.Stack())
			res = Result{Err: &Error{Code: CodePrintError, Message: fmt.Sprintf("%v", r)}}
		}
	}()

	obj, ok := argsObject(args)
	if !ok {
		log.Printf("[DISPATCH] ⚠️ printBytes: missing arguments")
		return Result{Value: 0}
	}

	data, err := decodeBytes(obj.Get("bytes"))
	if err != nil {
		return Result{Err: &Error{Code: CodePrintError, Message: err.Error()}, Cause: err}
	}

	err = d.session.PrintBytes(ctx, data)
	var fault *posprinter.FaultError
	if errors.As(err, &fault) {
		return Result{Err: &Error{Code: CodePrintError, Message: fault.Error()}, Cause: err}
	}
	return outcome(MethodPrintBytes, err)
}

func (d *Dispatcher) close(ctx context.Context) Result {
	return outcome(MethodClose, d.session.Close(ctx))
}

// outcome maps a core error to 1/0, keeping timeouts distinguishable.
func outcome(method string, err error) Result {
	switch {
	case err == nil:
		return Result{Value: 1}
	case errors.Is(err, posprinter.ErrTimeout):
		log.Printf("[DISPATCH] ⏱️ %s: %v", method, err)
		return Result{Err: &Error{Code: CodeTimeout, Message: err.Error()}, Cause: err}
	default:
		log.Printf("[DISPATCH] ❌ %s declined: %v", method, err)
		return Result{Value: 0, Cause: err}
	}
}

func argsObject(args json.RawMessage) (gjson.Result, bool) {
	if len(args) == 0 || !gjson.ValidBytes(args) {
		return gjson.Result{}, false
	}
	obj := gjson.ParseBytes(args)
	return obj, obj.IsObject()
}

// decodeBytes accepts a base64 string or an array of integers in 0..255.
// A missing or null value is an empty buffer.
func decodeBytes(v gjson.Result) ([]byte, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return nil, nil
	case v.Type == gjson.String:
		data, err := base64.StdEncoding.DecodeString(v.Str)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in 'bytes': %w", err)
		}
		return data, nil
	case v.IsArray():
		elems := v.Array()
		data := make([]byte, len(elems))
		for i, e := range elems {
			if e.Type != gjson.Number || e.Num != math.Trunc(e.Num) || e.Num < 0 || e.Num > 255 {
				return nil, fmt.Errorf("invalid byte at index %d: %s", i, e.Raw)
			}
			data[i] = byte(e.Num)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported type for 'bytes': %s", v.Type)
	}
}

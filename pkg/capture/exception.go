// Package capture holds what is known about a failure at the moment it is
// intercepted: the value, its type and the stack it unwound through. It also
// decides ownership of a trace and runs the local claim handlers.
package capture

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Trace is a captured call stack, innermost frame first
type Trace []StackFrame

// Format renders the trace the way Go tracebacks look:
//
//	pkg.Func
//		/path/to/file.go:42
func (t Trace) Format() string {
	var sb strings.Builder
	for _, f := range t {
		sb.WriteString(f.Function)
		sb.WriteString("\n\t")
		sb.WriteString(f.File)
		sb.WriteString(":")
		sb.WriteString(fmt.Sprint(f.Line))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Top returns the innermost frame, or a zero frame for an empty trace
func (t Trace) Top() StackFrame {
	if len(t) == 0 {
		return StackFrame{}
	}
	return t[0]
}

// Exception is an intercepted failure. It is built once when a hook fires and
// never mutated afterwards.
type Exception struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Value any       `json:"value"`
	Trace Trace     `json:"trace,omitempty"`
	Time  time.Time `json:"time"`
}

// New builds an exception from a value and an already captured trace
func New(value any, trace Trace) *Exception {
	return &Exception{
		ID:    "cap_" + uuid.NewString(),
		Type:  typeName(value),
		Value: value,
		Trace: trace,
		Time:  time.Now(),
	}
}

// FromPanic builds an exception from a recovered value, capturing the stack
// of the calling goroutine. skip counts frames above FromPanic to drop.
func FromPanic(value any, skip int) *Exception {
	return New(value, CaptureStack(skip+1))
}

// FromError builds an exception from an error that escaped a goroutine
func FromError(err error, skip int) *Exception {
	return New(err, CaptureStack(skip+1))
}

// Err returns the value as an error, wrapping non-error panic values
func (e *Exception) Err() error {
	if e == nil {
		return nil
	}
	if err, ok := e.Value.(error); ok {
		return err
	}
	return &PanicError{Value: e.Value, Type: e.Type}
}

// Message returns the value rendered as text
func (e *Exception) Message() string {
	if e == nil || e.Value == nil {
		return ""
	}
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// String renders the exception and its trace for logging
func (e *Exception) String() string {
	if e == nil {
		return "<nil exception>"
	}
	return fmt.Sprintf("%s: %s\n\n%s", e.Type, e.Message(), e.Trace.Format())
}

// Fingerprint identifies repeats of the same failure at the same place
func (e *Exception) Fingerprint() string {
	top := e.Trace.Top()
	return fmt.Sprintf("%s|%s|%s:%d", e.Type, e.Message(), top.File, top.Line)
}

// PanicError adapts a non-error panic value to the error interface
type PanicError struct {
	Value any
	Type  string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}

// CaptureStack captures the current call stack, skipping the specified number
// of frames above the caller and runtime internals.
func CaptureStack(skip int) Trace {
	var frames Trace

	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs) // +2 skips runtime.Callers and CaptureStack
	if n == 0 {
		return frames
	}

	callers := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callers.Next()
		if frame.Function == "main.main" {
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
			break
		}

		if !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}

		if !more {
			break
		}
	}

	return frames
}

// FuncFrame describes the entry point of a function value
func FuncFrame(fn any) StackFrame {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return StackFrame{}
	}
	pc := v.Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return StackFrame{}
	}
	file, line := f.FileLine(pc)
	return StackFrame{Function: f.Name(), File: file, Line: line}
}

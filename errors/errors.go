// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors provides the standard error definition used
// throughout canon. Each error is assigned a class of error (kind)
// and an operation with optional arguments. Errors may be chained,
// and thus can be used to annotate upstream errors: the import
// resolver uses this to record the trail of imports that led to a
// failure.
//
// Package errors provides functions Errorf and New as convenience
// constructors, so that users need import only one error package.
//
// The API was inspired by package upspin.io/errors.
package errors

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"runtime"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/canon/log"
)

// Separator is inserted between chained errors while rendering.
// The default value (":\n\t") is intended for interactive tools.
var Separator = ":\n\t"

// Kind denotes the type of the error. The error's kind is used to
// render the error message and also for interpretation.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Canceled denotes a cancellation error.
	Canceled
	// Timeout denotes a timeout error.
	Timeout
	// Temporary denotes a transient error.
	Temporary
	// NotExist denotes an error originating from a nonexistent resource.
	NotExist
	// NotAllowed denotes a permissions error.
	NotAllowed
	// NotSupported indicates the operation was not supported.
	NotSupported
	// Integrity denotes an integrity check error: content did not
	// match its declared digest.
	Integrity
	// ResourcesExhausted indicates that there were insufficient
	// resources, e.g., a normalization step budget.
	ResourcesExhausted
	// Unavailable denotes that a resource is temporarily unavailable.
	Unavailable
	// Invalid indicates an invalid state or data.
	Invalid
	// Parse denotes a syntax error in fetched source.
	Parse
	// Cycle denotes an import that (transitively) imports itself.
	Cycle
	// Encoding denotes an expression that has no canonical encoding,
	// or bytes that are not a valid canonical encoding.
	Encoding

	maxKind
)

var kind2string = [maxKind]string{
	Other:              "unknown error",
	Canceled:           "canceled",
	Timeout:            "timeout",
	Temporary:          "temporary",
	NotExist:           "resource does not exist",
	NotAllowed:         "access denied",
	NotSupported:       "operation not supported",
	Integrity:          "integrity error",
	ResourcesExhausted: "resources exhausted",
	Unavailable:        "unavailable",
	Invalid:            "invalid",
	Parse:              "parse error",
	Cycle:              "cyclic import",
	Encoding:           "encoding error",
}

// String renders a human-readable description of kind k.
func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return kind2string[Other]
	}
	return kind2string[k]
}

// Error defines a canon error. It is used to indicate an error
// associated with an operation (and arguments), and may wrap another
// error.
//
// Errors should be constructed by errors.E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Err is this error's underlying error: this error is caused
	// by Err.
	Err error
}

// E is used to construct errors. E constructs errors from a set of
// arguments; each of which must be one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	fmt.Stringer
//		Taken as an Arg.
//	digest.Digest
//		Taken as an Arg.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying error.
//
// If a Kind is provided, there is no further processing. If not, and
// an underlying error is provided, E attempts to interpret it as
// follows: (1) If the underlying error is another *Error, and there
// is no Kind argument, the Kind is inherited from the *Error. (2) If
// the underlying error has method Timeout() bool, it is invoked, and
// if it returns true, the error's kind is set to Timeout. (3) If the
// underlying error has method Temporary() bool, it is invoked, and
// if it returns true, the error's kind is set to Temporary. (4) If
// the underlying error is context.Canceled, the error's kind is set
// to Canceled. (5) If the underlying error is an os.IsNotExist
// error, the error's kind is set to NotExist.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case digest.Digest:
			e.Arg = append(e.Arg, arg.String())
		case Kind:
			e.Kind = arg
		case *Error:
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		case fmt.Stringer:
			e.Arg = append(e.Arg, arg.String())
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Std.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind {
			e.Kind = prev.Kind
			prev.Kind = Other
		} else if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other {
			e.Err = prev.Err
		}
	default:
		if e.Kind != Other {
			break
		}
		switch err := e.Err.(type) {
		case interface {
			Timeout() bool
		}:
			if err.Timeout() {
				e.Kind = Timeout
			}
		case interface {
			Temporary() bool
		}:
			if err.Temporary() {
				e.Kind = Temporary
			}
		default:
			switch {
			case err == context.Canceled:
				e.Kind = Canceled
			case err == context.DeadlineExceeded:
				e.Kind = Timeout
			case os.IsNotExist(err):
				e.Kind = NotExist
			}
		}
	}
	return e
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors,
// separated by Separator.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this errors and its chain of underlying
// errors, separated by sep.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for i := range e.Arg {
			b.WriteString(" " + e.Arg[i])
		}
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

// Unwrap returns the underlying error, so that *Error interoperates
// with the standard library's errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Kind == Temporary || e.Kind == Unavailable
}

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Recover recovers any error into an *Error. If the passed-in Error
// is already an error, it is simply returned; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// Match compares err1 with err2. If err1 has type Kind, Match
// reports whether err2's Kind is the same, otherwise, Match checks
// that every nonempty field in err1 has the same value in err2. If
// err1 is an *Error with a non-nil Err field, Match recurs to check
// that the two errors chain of underlying errors also match.
func Match(err1 interface{}, err2 error) bool {
	e2 := Recover(err2)
	switch e1 := err1.(type) {
	default:
		return false
	case Kind:
		return e1 == e2.Kind
	case *Error:
		if e1.Op != "" && e2.Op != e1.Op {
			return false
		}
		if len(e1.Arg) != len(e2.Arg) {
			return false
		}
		for i := range e1.Arg {
			if e1.Arg[i] != e2.Arg[i] {
				return false
			}
		}
		if e1.Kind != Other && e2.Kind != e1.Kind {
			return false
		}
		if e1.Err != nil {
			if _, ok := e1.Err.(*Error); ok {
				return Match(e1.Err, e2.Err)
			}
			if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
				return false
			}
		}
		return true
	}
}

// Trail returns the arguments of each error in err's chain that has
// operation op, outermost first. The import resolver annotates errors
// with an "import" frame per enclosing import, so that
// Trail("import", err) is the breadcrumb trail of a resolution
// failure.
func Trail(op string, err error) []string {
	var trail []string
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			break
		}
		if e.Op == op && len(e.Arg) > 0 {
			trail = append(trail, e.Arg[0])
		}
		err = e.Err
	}
	return trail
}

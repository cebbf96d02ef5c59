// Copyright 2024 The tskv Authors
// This file is part of tskv.
//
// tskv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tskv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tskv. If not, see <http://www.gnu.org/licenses/>.

// Package tskverr is the closed error-kind taxonomy shared by every
// package in this module. Every fallible engine operation returns an
// *Error (or wraps one), never a bare string or a panic — panics are
// reserved for invariant violations, and no worker goroutine recovers
// them.
package tskverr

import (
	"fmt"
)

// Kind is one of the closed set of error kinds a caller can switch on via
// errors.Is/errors.As without caring about the wrapped cause.
type Kind uint8

const (
	KindInvalidFlatbuffer Kind = iota
	KindInvalidModel
	KindCharacterSet
	KindIndexErr
	KindIoError
	KindSend
	KindReceive
	KindInvalidSerdeMessage
	KindSchemaConflict
	KindTombstoneOverlap
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFlatbuffer:
		return "InvalidFlatbuffer"
	case KindInvalidModel:
		return "InvalidModel"
	case KindCharacterSet:
		return "CharacterSet"
	case KindIndexErr:
		return "IndexErr"
	case KindIoError:
		return "IoError"
	case KindSend:
		return "Send"
	case KindReceive:
		return "Receive"
	case KindInvalidSerdeMessage:
		return "InvalidSerdeMessage"
	case KindSchemaConflict:
		return "SchemaConflict"
	case KindTombstoneOverlap:
		return "TombstoneOverlap"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every package in this module returns.
// Op names the failing operation ("engine.Write", "wal.Append", ...) for
// log correlation; Err is the wrapped cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, tskverr.ErrSchemaConflict) etc. work by
// comparing kinds rather than pointer identity.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindSentinel)
	if !ok {
		return false
	}
	return e.Kind == k.kind
}

type kindSentinel struct{ kind Kind }

func (s *kindSentinel) Error() string { return s.kind.String() }

// Sentinels usable with errors.Is(err, tskverr.ErrSchemaConflict) etc.
var (
	ErrInvalidFlatbuffer   = &kindSentinel{KindInvalidFlatbuffer}
	ErrInvalidModel        = &kindSentinel{KindInvalidModel}
	ErrCharacterSet        = &kindSentinel{KindCharacterSet}
	ErrIndexErr            = &kindSentinel{KindIndexErr}
	ErrIoError             = &kindSentinel{KindIoError}
	ErrSend                = &kindSentinel{KindSend}
	ErrReceive             = &kindSentinel{KindReceive}
	ErrInvalidSerdeMessage = &kindSentinel{KindInvalidSerdeMessage}
	ErrSchemaConflict      = &kindSentinel{KindSchemaConflict}
	ErrTombstoneOverlap    = &kindSentinel{KindTombstoneOverlap}
)

// New builds an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error wrapping err, or returns nil if err is nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

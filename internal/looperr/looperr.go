// Package looperr tags looper errors with the kind of violation that caused
// them so callers can decide how to report a declined command.
package looperr

import (
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

const (
	// KindPrecondition marks a command issued in a state that does not allow it.
	KindPrecondition ftag.Kind = "PRECONDITION_VIOLATION"
	// KindRange marks an index or parameter outside its domain.
	KindRange ftag.Kind = "RANGE_VIOLATION"
	// KindAbsent marks a lookup of a resource that does not exist.
	KindAbsent ftag.Kind = "RESOURCE_ABSENT"
)

// Precondition returns a new error tagged as a precondition violation.
func Precondition(format string, args ...interface{}) error {
	return fault.New(fmt.Sprintf(format, args...), ftag.With(KindPrecondition))
}

// Range returns a new error tagged as a range violation.
func Range(format string, args ...interface{}) error {
	return fault.New(fmt.Sprintf(format, args...), ftag.With(KindRange))
}

// Absent returns a new error tagged as a missing resource.
func Absent(format string, args ...interface{}) error {
	return fault.New(fmt.Sprintf(format, args...), ftag.With(KindAbsent))
}

// Wrap adds context to err while keeping its kind.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(err, fmsg.With(msg))
}

func IsPrecondition(err error) bool { return err != nil && ftag.Get(err) == KindPrecondition }
func IsRange(err error) bool        { return err != nil && ftag.Get(err) == KindRange }
func IsAbsent(err error) bool       { return err != nil && ftag.Get(err) == KindAbsent }

// KindOf returns the kind label used in logs and metrics, "internal" when
// err carries no looper kind.
func KindOf(err error) string {
	switch ftag.Get(err) {
	case KindPrecondition:
		return "precondition"
	case KindRange:
		return "range"
	case KindAbsent:
		return "absent"
	}
	return "internal"
}

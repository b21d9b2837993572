package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindDoubleBooking Kind = "double_booking"
	KindLocked        Kind = "locked"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
)

// Error is the structured error returned across the service boundary. It
// carries enough detail (kind plus the offending field or slot) for the API
// layer to render a precise message.
type Error struct {
	Kind    Kind
	Message string

	// Fields enumerates every failing field for validation errors.
	Fields map[string]string

	// Slot identifies the conflicting booking for double-booking errors.
	Slot *Slot

	// Resource and Status identify the locked record for locked errors.
	Resource string
	Status   string

	cause error
}

// Slot describes a doctor/date/time booking slot.
type Slot struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		if len(e.Fields) > 0 {
			keys := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, k+": "+e.Fields[k])
			}
			return "validation failed: " + strings.Join(parts, "; ")
		}
	case KindDoubleBooking:
		if e.Slot != nil {
			return fmt.Sprintf("doctor %s already booked on %s at %s", e.Slot.DoctorID, e.Slot.Date, e.Slot.Time)
		}
	case KindLocked:
		if e.Resource != "" {
			return fmt.Sprintf("%s is locked (status %s)", e.Resource, e.Status)
		}
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Validation builds a validation error from a field->message map.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// ValidationField builds a single-field validation error.
func ValidationField(field, msg string) *Error {
	return Validation(map[string]string{field: msg})
}

// Conflict marks a transient write race (sequence allocation, optimistic
// version check) that exhausted its retries.
func Conflict(msg string, cause error) *Error {
	return &Error{Kind: KindConflict, Message: msg, cause: cause}
}

// DoubleBooking reports a live appointment already holding the slot.
func DoubleBooking(doctorID, date, timeOfDay string) *Error {
	return &Error{
		Kind:    KindDoubleBooking,
		Message: "slot already booked",
		Slot:    &Slot{DoctorID: doctorID, Date: date, Time: timeOfDay},
	}
}

// Locked reports a write against a finalized record.
func Locked(resource, status string) *Error {
	return &Error{Kind: KindLocked, Message: "record is locked", Resource: resource, Status: status}
}

// NotFound reports a missing referenced entity.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found", Resource: resource}
}

// Timeout reports an unresponsive storage operation. The write is guaranteed
// not partially applied (all mutations run in one transaction).
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "storage operation timed out", cause: cause}
}

// KindOf returns the Kind of err, or "" when err is not a structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a structured error of the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// AsError returns the structured error inside err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

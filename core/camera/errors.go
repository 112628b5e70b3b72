package camera

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Errors devices may return; Classify maps them (and common OS errors) to a Category.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device found")
	ErrDeviceBusy       = errors.New("camera device busy or unreadable")
	ErrOverconstrained  = errors.New("camera constraints cannot be satisfied")
)

type Category int

const (
	Unknown Category = iota
	Denied
	NotFound
	InUse
	Unsupported
)

var categoryNames = map[Category]string{
	Unknown:     "unknown",
	Denied:      "denied",
	NotFound:    "not_found",
	InUse:       "in_use",
	Unsupported: "unsupported",
}

var categoryMessages = map[Category]string{
	Unknown:     "Failed to access camera",
	Denied:      "Camera access denied",
	NotFound:    "No camera found",
	InUse:       "Camera already in use",
	Unsupported: "Unsupported specifications",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[Unknown]
}

// Message is the user-facing text of the category.
func (c Category) Message() string {
	if msg, ok := categoryMessages[c]; ok {
		return msg
	}
	return categoryMessages[Unknown]
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// AcquisitionError is a classified stream acquisition failure.
type AcquisitionError struct {
	Category Category
	Err      error
}

func (e *AcquisitionError) Error() string {
	return e.Category.Message()
}

func (e *AcquisitionError) Cause() error  { return e.Err }
func (e *AcquisitionError) Unwrap() error { return e.Err }

// Classify converts any acquisition failure into an *AcquisitionError.
// Already classified errors are returned as is.
func Classify(err error) *AcquisitionError {
	if err == nil {
		return nil
	}
	var aErr *AcquisitionError
	if errors.As(err, &aErr) {
		return aErr
	}
	return &AcquisitionError{Category: categorize(err), Err: err}
}

func categorize(err error) Category {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return Denied
	case errors.Is(err, ErrNoDevice),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO):
		return NotFound
	case errors.Is(err, ErrDeviceBusy),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EIO):
		return InUse
	case errors.Is(err, ErrOverconstrained),
		errors.Is(err, syscall.EINVAL):
		return Unsupported
	}
	return Unknown
}

// IsAcquisitionError reports whether err (or its cause) is an *AcquisitionError.
func IsAcquisitionError(err error) bool {
	var aErr *AcquisitionError
	return errors.As(err, &aErr)
}

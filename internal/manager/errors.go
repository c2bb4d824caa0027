package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/backend"
	"github.com/san-kum/batchsim/internal/config"
)

// ErrClosed is returned by every operation on a closed Manager.
var ErrClosed = errors.New("manager: closed")

// Kind classifies why a Manager could not be constructed.
type Kind int

const (
	KindUnknown Kind = iota
	KindAssetMissing
	KindUnsupportedBackend
	KindDeviceAllocationFailure
	KindCompilationFailure
	KindInvalidConfig
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindAssetMissing:            "asset_missing",
	KindUnsupportedBackend:      "unsupported_backend",
	KindDeviceAllocationFailure: "device_allocation_failure",
	KindCompilationFailure:      "compilation_failure",
	KindInvalidConfig:           "invalid_config",
	KindCanceled:                "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// InitError is the only error New returns.
type InitError struct {
	Kind Kind
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("manager: init failed (%s): %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

func newInitError(err error) *InitError {
	return &InitError{Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, assets.ErrAssetMissing):
		return KindAssetMissing
	case errors.Is(err, backend.ErrUnsupportedBackend):
		return KindUnsupportedBackend
	case errors.Is(err, backend.ErrDeviceAllocation):
		return KindDeviceAllocationFailure
	case errors.Is(err, backend.ErrCompilation):
		return KindCompilationFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}

// KindOf reports the init failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return KindUnknown, false
}

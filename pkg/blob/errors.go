package blob

import (
	"errors"
	"fmt"

	"github.com/dyluth/effectd/pkg/capability"
)

var (
	// ErrUnregistered matches decode failures caused by a type outside the registry.
	ErrUnregistered = errors.New("unregistered type")

	// ErrMalformed matches decode failures caused by invalid framing or structure.
	ErrMalformed = errors.New("malformed blob")

	// ErrLimit matches decode failures caused by exceeding a size or depth limit.
	ErrLimit = errors.New("blob limit exceeded")

	// ErrConstruct matches failures raised by a registered constructor.
	ErrConstruct = errors.New("construction failed")

	// ErrRegistryNotFrozen is returned when Decode is handed a registry that can still change.
	ErrRegistryNotFrozen = errors.New("capability registry is not frozen")
)

// ErrorKind classifies a DecodeError.
type ErrorKind int

const (
	KindMalformedBlob ErrorKind = iota
	KindUnregisteredType
	KindLimitExceeded
	KindConstructFailed
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnregisteredType:
		return ErrUnregistered
	case KindLimitExceeded:
		return ErrLimit
	case KindConstructFailed:
		return ErrConstruct
	default:
		return ErrMalformed
	}
}

// DecodeError describes why a blob was rejected. Offset is the byte position
// in the blob at which the problem was detected.
type DecodeError struct {
	Kind   ErrorKind
	Type   capability.Key
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindUnregisteredType:
		return fmt.Sprintf("blob: unregistered type %s at offset %d", e.Type, e.Offset)
	case KindConstructFailed:
		return fmt.Sprintf("blob: constructing %s: %v", e.Type, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("blob: %v at offset %d: %v", e.Kind.sentinel(), e.Offset, e.Err)
		}
		return fmt.Sprintf("blob: %v at offset %d", e.Kind.sentinel(), e.Offset)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *DecodeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsUnregistered reports whether err is an unregistered-type rejection.
func IsUnregistered(err error) bool {
	return errors.Is(err, ErrUnregistered)
}

// Package sealerr defines the error taxonomy from the unlock/build
// propagation policy: a fixed set of kinds, never exposing the detail that
// produced them when they cross the integrity boundary.
package sealerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the propagation policy. Kinds are
// compared with errors.Is against the sentinel values below, not by type.
type Kind string

const (
	KindInvalidCredential Kind = "invalid-credential"
	KindDeviceIntegrity   Kind = "device-integrity"
	KindDeviceBusy        Kind = "device-busy"
	KindMountFailure      Kind = "mount-failure"
	KindFSOp              Kind = "fs-op-failure"
	KindConfiguration     Kind = "configuration"
	KindInterrupted       Kind = "interrupted"
	KindPostUnlock        Kind = "post-unlock"
)

// Sentinels usable with errors.Is. Device-integrity failures must always be
// wrapped as ErrDeviceIntegrity regardless of their underlying cause: a
// missing file, a wrong-length ignored file, a hash mismatch and a
// decryption MAC failure must all be indistinguishable to the caller.
var (
	ErrInvalidCredential = errors.New(string(KindInvalidCredential))
	ErrDeviceIntegrity   = errors.New(string(KindDeviceIntegrity))
	ErrDeviceBusy        = errors.New(string(KindDeviceBusy))
	ErrMountFailure      = errors.New(string(KindMountFailure))
	ErrFSOp              = errors.New(string(KindFSOp))
	ErrConfiguration     = errors.New(string(KindConfiguration))
	ErrInterrupted       = errors.New(string(KindInterrupted))
	ErrPostUnlock        = errors.New(string(KindPostUnlock))
)

func sentinelFor(k Kind) error {
	switch k {
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindDeviceIntegrity:
		return ErrDeviceIntegrity
	case KindDeviceBusy:
		return ErrDeviceBusy
	case KindMountFailure:
		return ErrMountFailure
	case KindFSOp:
		return ErrFSOp
	case KindConfiguration:
		return ErrConfiguration
	case KindInterrupted:
		return ErrInterrupted
	case KindPostUnlock:
		return ErrPostUnlock
	default:
		return errors.New(string(k))
	}
}

// sealError wraps a kind sentinel with an opaque, surfaced message and an
// internal-only detail that is never included in Error().
type sealError struct {
	kind    Kind
	sentry  error
	message string
	detail  error
}

func (e *sealError) Error() string {
	if e.message != "" {
		return e.message
	}
	return string(e.kind)
}

func (e *sealError) Unwrap() error { return e.sentry }

// Detail returns the internal cause, for local logging only. Never surface
// this to a caller across the integrity boundary.
func (e *sealError) Detail() error { return e.detail }

// New builds an opaque error of the given kind. For KindDeviceIntegrity the
// message is always the fixed "device may be compromised" string regardless
// of what detail produced it; detail is retained only for local logging.
func New(kind Kind, detail error) error {
	msg := fmt.Sprintf("%s", kind)
	if kind == KindDeviceIntegrity {
		msg = "device may be compromised"
	} else if detail != nil {
		msg = detail.Error()
	}
	return &sealError{kind: kind, sentry: sentinelFor(kind), message: msg, detail: detail}
}

// Integrity wraps any failure occurring between post-authentication and
// pre-unlock of `internal` into the single opaque device-integrity error,
// per the propagation policy: the caller can never distinguish a missing
// file from a hash mismatch from a MAC failure.
func Integrity(detail error) error {
	return New(KindDeviceIntegrity, detail)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, sentinelFor(kind))
}

// DetailOf extracts the internal detail from err, if any, for local
// diagnostics. Callers outside the package that produced the error must
// never forward this upstream across an integrity boundary.
func DetailOf(err error) error {
	var se *sealError
	if errors.As(err, &se) {
		return se.detail
	}
	return nil
}

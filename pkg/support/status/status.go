// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the error kinds shared by the schedulers, registries, backends and converters.
//
// Each kind is a sentinel error: callers test for it with errors.Is, and the constructors below wrap the
// sentinel with a formatted message (using github.com/pkg/errors, so a stack trace is attached).
package status

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfiguration is returned when parameters are missing, inconsistent, or select an unknown variant.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidValue is returned when a numeric precondition or postcondition fails, or an argument is out of range.
	ErrInvalidValue = errors.New("invalid value")

	// ErrDependencyFailure is returned when the tensor layer, a device or an external executor failed.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrNotFound is returned on a registry miss.
	ErrNotFound = errors.New("not found")

	// ErrCancelled is returned when a run was stopped between iterations.
	ErrCancelled = errors.New("cancelled")

	// ErrDuplicate is returned when registering a key that is already registered.
	ErrDuplicate = errors.New("duplicate registration")

	// ErrNotReady is returned when a registry is used before its registration phase is sealed.
	ErrNotReady = errors.New("not ready")
)

// InvalidConfigurationf returns an error that wraps ErrInvalidConfiguration.
func InvalidConfigurationf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}

// InvalidValuef returns an error that wraps ErrInvalidValue.
func InvalidValuef(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidValue, format, args...)
}

// DependencyFailuref returns an error that wraps ErrDependencyFailure.
func DependencyFailuref(format string, args ...any) error {
	return errors.Wrapf(ErrDependencyFailure, format, args...)
}

// NotFoundf returns an error that wraps ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Cancelledf returns an error that wraps ErrCancelled.
func Cancelledf(format string, args ...any) error {
	return errors.Wrapf(ErrCancelled, format, args...)
}

// Duplicatef returns an error that wraps ErrDuplicate.
func Duplicatef(format string, args ...any) error {
	return errors.Wrapf(ErrDuplicate, format, args...)
}

// NotReadyf returns an error that wraps ErrNotReady.
func NotReadyf(format string, args ...any) error {
	return errors.Wrapf(ErrNotReady, format, args...)
}

// IsInvalidConfiguration reports whether err is (or wraps) ErrInvalidConfiguration.
func IsInvalidConfiguration(err error) bool { return errors.Is(err, ErrInvalidConfiguration) }

// IsInvalidValue reports whether err is (or wraps) ErrInvalidValue.
func IsInvalidValue(err error) bool { return errors.Is(err, ErrInvalidValue) }

// IsDependencyFailure reports whether err is (or wraps) ErrDependencyFailure.
func IsDependencyFailure(err error) bool { return errors.Is(err, ErrDependencyFailure) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCancelled reports whether err is (or wraps) ErrCancelled.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// Kind returns the sentinel that err wraps, or nil if err doesn't wrap any of the kinds in this package.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidConfiguration, ErrInvalidValue, ErrDependencyFailure, ErrNotFound,
		ErrCancelled, ErrDuplicate, ErrNotReady} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

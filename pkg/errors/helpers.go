// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Wrap adds context to err. Returns nil when err is nil.
//
//	if err := store.SaveRun(ctx, run); err != nil {
//	    return errors.Wrap(err, "saving run")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is a re-export of errors.Is so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a re-export of errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap is a re-export of errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New is a re-export of errors.New.
func New(message string) error {
	return errors.New(message)
}

// Join is a re-export of errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTimeout reports whether err wraps a timeout, either a *TimeoutError or a
// *DelegateTimeoutError.
func IsTimeout(err error) bool {
	var dt *DelegateTimeoutError
	if errors.As(err, &dt) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

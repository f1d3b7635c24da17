/*
 * Copyright 2024-2025 Raamsri Kumar <raam@tinkershack.in>
 * Copyright 2024-2025 The StrataSTOR Authors and Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	"fmt"
	"net/http"
)

// New builds a RodentError from a registered code, filling in the domain,
// message and HTTP status from errorDefinitions. An unregistered code still
// produces a usable error instead of panicking.
func New(code ErrorCode, details string) *RodentError {
	def, ok := errorDefinitions[code]
	if !ok {
		return &RodentError{
			Code:       code,
			Domain:     DomainMisc,
			Message:    "unregistered error code",
			Details:    details,
			HTTPStatus: http.StatusInternalServerError,
		}
	}
	return &RodentError{
		Code:       code,
		Domain:     def.domain,
		Message:    def.message,
		Details:    details,
		HTTPStatus: def.httpStatus,
	}
}

// Wrap attaches a registered code to an existing error, keeping the original
// error's text as Details so callers can still see the root cause. An error
// that is already a *RodentError is returned unchanged, keeping its own code.
func Wrap(err error, code ErrorCode) *RodentError {
	if err == nil {
		return New(code, "")
	}
	if re, ok := err.(*RodentError); ok {
		return re
	}
	return New(code, err.Error())
}

// WithMetadata returns the receiver with a metadata key set, for chaining
// at the call site (e.g. errors.Wrap(err, code).WithMetadata("op", "x")).
func (e *RodentError) WithMetadata(key, value string) *RodentError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithDetails overwrites the Details field, for chaining.
func (e *RodentError) WithDetails(details string) *RodentError {
	e.Details = details
	return e
}

func (e *RodentError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%d] %s: %s", e.Domain, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%d] %s", e.Domain, e.Code, e.Message)
}

// Is reports whether target is a RodentError with the same Code, letting
// callers use errors.Is(err, errors.New(SomeCode, "")).
func (e *RodentError) Is(target error) bool {
	re, ok := target.(*RodentError)
	if !ok {
		return false
	}
	return re.Code == e.Code
}

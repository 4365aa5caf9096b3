/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cliauth

import (
	"errors"
	"fmt"
)

// Category classifies orchestrator failures. The HTTP layer maps
// categories to status codes.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryTransport  Category = "transport"
	CategoryRejected   Category = "rejected"
	CategoryValidation Category = "validation"
	CategoryState      Category = "state"
	CategoryStorage    Category = "storage"
	CategoryInternal   Category = "internal"
)

// Error is returned by every failing Service operation.
type Error struct {
	Category Category
	// Op is the operation that failed: start, callback, status, renew or deactivate.
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cli auth %s: %s error", e.Op, e.Category)
	}
	return fmt.Sprintf("cli auth %s: %s error: %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the category sentinels below, so
// errors.Is(err, ErrStorage) holds for any storage failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Err == nil && t.Op == "" {
		return e.Category == t.Category
	}
	return false
}

// Category sentinels for errors.Is.
var (
	ErrConfig     = &Error{Category: CategoryConfig}
	ErrTransport  = &Error{Category: CategoryTransport}
	ErrRejected   = &Error{Category: CategoryRejected}
	ErrValidation = &Error{Category: CategoryValidation}
	ErrState      = &Error{Category: CategoryState}
	ErrStorage    = &Error{Category: CategoryStorage}
	ErrInternal   = &Error{Category: CategoryInternal}
)

// Causes carried inside an Error; match them with errors.Is.
var (
	ErrInvalidState        = errors.New("invalid or expired state")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionInactive     = errors.New("session is inactive")
	ErrMissingRefreshToken = errors.New("refresh token is required")
)

// CategoryOf returns the category of err, or CategoryInternal when err
// did not come from this package.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

func newError(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}
